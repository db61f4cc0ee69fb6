package email

import (
	"github.com/smallbiznis/fintrack/internal/config"
	"github.com/smallbiznis/fintrack/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("providers.email",
	fx.Provide(NewFromConfig),
)

type Params struct {
	fx.In

	Config  config.Config
	Log     *zap.Logger
	Metrics *metrics.Metrics `optional:"true"`
}

func NewFromConfig(p Params) Provider {
	emailCfg := Config{
		Host:     p.Config.Email.SMTPHost,
		Port:     p.Config.Email.SMTPPort,
		Username: p.Config.Email.SMTPUsername,
		Password: p.Config.Email.SMTPPassword,
		From:     p.Config.Email.SMTPFrom,
	}
	var transport Provider
	if emailCfg.Configured() {
		transport = NewSMTP(emailCfg)
	}
	return NewMailer(p.Log, transport, "smtp", p.Metrics)
}
