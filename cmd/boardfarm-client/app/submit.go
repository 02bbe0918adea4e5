package app

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	apiv1 "github.com/autopeer-io/boardfarm/pkg/apis/execution/v1"
)

const headerConsoleLog = "X-Console-Log"

type submitOptions struct {
	Server    string
	Insecure  bool
	Strip     bool
	StripTool string
	Output    string
	Timeout   time.Duration
}

func newSubmitCommand() *cobra.Command {
	o := &submitOptions{
		Server:    "https://localhost:8443",
		StripTool: "strip",
		Timeout:   time.Hour,
	}

	cmd := &cobra.Command{
		Use:   "submit <executable> <info.yaml>",
		Short: "Run an executable on a board and print its console output",
		Long: `Run an executable on a board and print its console output.

The info file selects the target and how the test is run:

  target:
    architecture: arm
    board: tqma7d
  config:
    retryMaximum: 3
    timeout: 60        # seconds
    endString: "*** END OF TEST ***"
    serialTimeout: 1   # seconds`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), args[0], args[1])
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&o.Server, "server", o.Server, "Base URL of the boardfarm server.")
	fs.BoolVar(&o.Insecure, "insecure", o.Insecure, "Skip TLS certificate verification.")
	fs.BoolVarP(&o.Strip, "strip", "s", o.Strip, "Strip debug symbols from a copy of the executable before sending it.")
	fs.StringVar(&o.StripTool, "strip-tool", o.StripTool, "strip binary used by --strip, e.g. arm-rtems5-strip.")
	fs.StringVarP(&o.Output, "output", "o", o.Output, "Write the console output to this file instead of stdout.")
	fs.DurationVar(&o.Timeout, "timeout", o.Timeout, "Give up waiting for the server after this long.")
	return cmd
}

func (o *submitOptions) run(ctx context.Context, stdout, stderr io.Writer, exePath, infoPath string) error {
	req, err := loadInfo(infoPath)
	if err != nil {
		return err
	}

	exe, err := o.readExecutable(ctx, stderr, exePath)
	if err != nil {
		return err
	}
	built := apiv1.NewExecutionRequest(exe, req.Target)
	built.RetryMaximum = req.RetryMaximum
	built.Timeout = req.Timeout
	built.EndString = req.EndString
	built.SerialTimeout = req.SerialTimeout
	if err := built.Validate(); err != nil {
		return fmt.Errorf("%s: %w", infoPath, err)
	}

	body, err := built.EncodeXMLBytes()
	if err != nil {
		return err
	}

	text, logURL, status, err := o.post(ctx, body)
	if err != nil {
		return err
	}
	if logURL != "" {
		fmt.Fprintf(stderr, "console log: %s\n", logURL)
	}

	if o.Output == "" {
		fmt.Fprintln(stdout, text)
	} else if err := os.WriteFile(o.Output, []byte(text), 0o644); err != nil {
		return err
	}

	if status != http.StatusOK {
		return fmt.Errorf("server answered %s", http.StatusText(status))
	}
	return nil
}

// loadInfo reads the target and test settings of an info file.
func loadInfo(path string) (*apiv1.ExecutionRequest, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("config.retryMaximum", 0)
	v.SetDefault("config.serialTimeout", 0)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read info file: %w", err)
	}

	return &apiv1.ExecutionRequest{
		Target: apiv1.Target{
			Architecture: v.GetString("target.architecture"),
			Board:        v.GetString("target.board"),
		},
		RetryMaximum:  v.GetInt("config.retryMaximum"),
		Timeout:       v.GetInt("config.timeout"),
		EndString:     v.GetString("config.endString"),
		SerialTimeout: v.GetInt("config.serialTimeout"),
	}, nil
}

func (o *submitOptions) readExecutable(ctx context.Context, stderr io.Writer, path string) ([]byte, error) {
	exe, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !o.Strip {
		return exe, nil
	}

	tmp, err := os.CreateTemp("", "boardfarm-*.exe")
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(exe); err != nil {
		tmp.Close()
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		return nil, err
	}

	var errOut bytes.Buffer
	cmd := exec.CommandContext(ctx, o.StripTool, tmp.Name(), "-g", "-S")
	cmd.Stderr = &errOut
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", o.StripTool, err, strings.TrimSpace(errOut.String()))
	}

	stripped, err := os.ReadFile(tmp.Name())
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(stderr, "Before stripping: %d\nAfter stripping: %d\n", len(exe), len(stripped))
	return stripped, nil
}

func (o *submitOptions) post(ctx context.Context, body []byte) (string, string, int, error) {
	ctx, cancel := context.WithTimeout(ctx, o.Timeout)
	defer cancel()

	url := strings.TrimSuffix(o.Server, "/") + "/v1/executions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", "", 0, err
	}
	req.Header.Set("Content-Type", apiv1.ContentTypeXML)

	client := &http.Client{}
	if o.Insecure {
		client.Transport = &http.Transport{
			Proxy:           http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", "", 0, err
	}
	defer resp.Body.Close()

	text, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", 0, err
	}
	return string(text), resp.Header.Get(headerConsoleLog), resp.StatusCode, nil
}
