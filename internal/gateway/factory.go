package gateway

import (
	"fmt"

	"github.com/Montivagant/rms-nova-sub000/internal/common/logger"
	"github.com/Montivagant/rms-nova-sub000/internal/config"
)

// New picks the backend named by the deployment config.
func New(cfg config.GatewayConfig, log *logger.Logger) (Gateway, error) {
	target, ok := ParseOutcome(cfg.TargetOutcome)
	if !ok {
		target = OutcomeCompleted
	}
	hc := HTTPConfig{
		Processor:     cfg.Processor,
		BaseURL:       cfg.BaseURL,
		APIKey:        cfg.APIKey,
		Timeout:       cfg.Timeout,
		TargetOutcome: target,
	}
	switch cfg.Provider {
	case config.ProviderMock, "":
		return NewMock(), nil
	case config.ProviderSandbox:
		return NewSandbox(hc, log.With("gateway-sandbox")), nil
	case config.ProviderReal:
		return NewReal(hc, log.With("gateway-"+firstNonEmpty(cfg.Processor, DefaultRealProcessor))), nil
	default:
		return nil, fmt.Errorf("unknown gateway provider %q", cfg.Provider)
	}
}
