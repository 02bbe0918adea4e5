package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*HttpOptions)(nil)

// HttpOptions configures the HTTP ingress.
type HttpOptions struct {
	Network string `json:"network" mapstructure:"network"`
	Addr    string `json:"addr" mapstructure:"addr"`

	// Timeout bounds reading a request and writing headers. A job response
	// is written when the job completes, so there is no write timeout.
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`

	ShutdownTimeout time.Duration `json:"shutdown-timeout" mapstructure:"shutdown-timeout"`

	// MaxBodyBytes caps an execution request, binary included.
	MaxBodyBytes int64 `json:"max-body-bytes" mapstructure:"max-body-bytes"`

	// CertFile and KeyFile enable TLS when both are set.
	CertFile string `json:"cert-file" mapstructure:"cert-file"`
	KeyFile  string `json:"key-file" mapstructure:"key-file"`
}

func NewHttpOptions() *HttpOptions {
	return &HttpOptions{
		Network:         "tcp",
		Addr:            "0.0.0.0:8443",
		Timeout:         30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		MaxBodyBytes:    64 << 20,
	}
}

func (o *HttpOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errs := []error{}
	if err := ValidateAddress(o.Addr); err != nil {
		errs = append(errs, err)
	}
	if (o.CertFile == "") != (o.KeyFile == "") {
		errs = append(errs, fmt.Errorf("--http.cert-file and --http.key-file must be set together"))
	}
	if o.MaxBodyBytes <= 0 {
		errs = append(errs, fmt.Errorf("--http.max-body-bytes must be positive"))
	}
	return errs
}

func (o *HttpOptions) TLSEnabled() bool {
	return o.CertFile != "" && o.KeyFile != ""
}

func (o *HttpOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Network, "http.network", o.Network, "Specify the network for the HTTP server.")
	fs.StringVar(&o.Addr, "http.addr", o.Addr, "Specify the HTTP server bind address and port.")
	fs.DurationVar(&o.Timeout, "http.timeout", o.Timeout, "Timeout for reading a request.")
	fs.DurationVar(&o.ShutdownTimeout, "http.shutdown-timeout", o.ShutdownTimeout, "Grace period for in-flight requests on shutdown.")
	fs.Int64Var(&o.MaxBodyBytes, "http.max-body-bytes", o.MaxBodyBytes, "Maximum size of an execution request body.")
	fs.StringVar(&o.CertFile, "http.cert-file", o.CertFile, "TLS certificate file. Enables HTTPS together with --http.key-file.")
	fs.StringVar(&o.KeyFile, "http.key-file", o.KeyFile, "TLS private key file.")
}
