package constant

const (
	DevelopmentEnvironment = "development"
	ProductionEnvironment  = "production"
)

const (
	CompositeOrderStreamName       = "composite_order"
	CompositeOrderStreamSubjectAll = "composite_order.*"
)

const (
	CompositeOrderDatabase = "composite_order"
	CompositeOrderRedis    = "composite_order"
)

func GetCompositeOrderStreamSubject(eventType string) string {
	return CompositeOrderStreamName + "." + eventType
}
