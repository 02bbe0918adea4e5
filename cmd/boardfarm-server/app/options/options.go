package options

import (
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/autopeer-io/boardfarm/internal/dispatcher"
	"github.com/autopeer-io/boardfarm/pkg/app"
	"github.com/autopeer-io/boardfarm/pkg/log"
	"github.com/autopeer-io/boardfarm/pkg/options"
)

type ServerOptions struct {
	HttpOptions *options.HttpOptions    `json:"http" mapstructure:"http"`
	MqttOptions *options.MqttOptions    `json:"mqtt" mapstructure:"mqtt"`
	S3Options   *options.S3Options      `json:"s3" mapstructure:"s3"`
	FarmOptions *dispatcher.FarmOptions `json:"farm" mapstructure:"farm"`
	Log         *log.Options            `json:"log" mapstructure:"log"`
}

var _ app.NamedFlagSetOptions = (*ServerOptions)(nil)

func NewServerOptions() *ServerOptions {
	return &ServerOptions{
		HttpOptions: options.NewHttpOptions(),
		MqttOptions: options.NewMqttOptions(),
		S3Options:   options.NewS3Options(),
		FarmOptions: dispatcher.NewFarmOptions(),
		Log:         log.NewOptions(),
	}
}

func (o *ServerOptions) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}
	o.HttpOptions.AddFlags(fss.FlagSet("http"))
	o.MqttOptions.AddFlags(fss.FlagSet("mqtt"))
	o.S3Options.AddFlags(fss.FlagSet("s3"))
	o.FarmOptions.AddFlags(fss.FlagSet("farm"))
	o.Log.AddFlags(fss.FlagSet("log"))
	return fss
}

func (o *ServerOptions) Complete() error {
	o.FarmOptions.Complete()
	return nil
}

func (o *ServerOptions) Validate() error {
	errs := []error{}
	errs = append(errs, o.HttpOptions.Validate()...)
	errs = append(errs, o.MqttOptions.Validate()...)
	errs = append(errs, o.S3Options.Validate()...)
	errs = append(errs, o.FarmOptions.Validate()...)
	errs = append(errs, o.Log.Validate()...)
	return utilerrors.NewAggregate(errs)
}

func (o *ServerOptions) Config() (*dispatcher.Config, error) {
	return &dispatcher.Config{
		HttpOptions: o.HttpOptions,
		MqttOptions: o.MqttOptions,
		S3Options:   o.S3Options,
		FarmOptions: o.FarmOptions,
	}, nil
}
