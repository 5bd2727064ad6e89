package exchange

import (
	"fmt"
	"sync"

	"github.com/krobus00/composite-order-service/internal/entity"
)

var (
	registryMu             sync.RWMutex
	GlobalExchangeRegistry = make(map[entity.ExchangeName]entity.Exchange)
)

func RegisterExchange(name entity.ExchangeName, exchange entity.Exchange) {
	registryMu.Lock()
	defer registryMu.Unlock()
	GlobalExchangeRegistry[name] = exchange
}

func GetExchange(name entity.ExchangeName) (entity.Exchange, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	exchange, ok := GlobalExchangeRegistry[name]
	if !ok {
		return nil, fmt.Errorf("exchange %q is not registered", name)
	}
	return exchange, nil
}
