package embedding

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// DefaultModelRepo is the sentence encoder installed when none is named.
	DefaultModelRepo = "sentence-transformers/all-MiniLM-L6-v2"

	// DefaultModelRevision pins the revision that ships safetensors weights.
	DefaultModelRevision = "main"

	// DefaultHubURL is the Hugging Face hub download endpoint.
	DefaultHubURL = "https://huggingface.co"
)

var errNotOnHub = errors.New("file not found on hub")

// Installer downloads a sentence encoder from a Hugging Face compatible hub.
type Installer struct {
	HubURL   string
	Repo     string
	Revision string
	HTTP     *http.Client
	Logger   *slog.Logger
}

// NewInstaller returns an Installer for the default model and hub.
func NewInstaller(logger *slog.Logger) *Installer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Installer{
		HubURL:   DefaultHubURL,
		Repo:     DefaultModelRepo,
		Revision: DefaultModelRevision,
		HTTP:     &http.Client{Timeout: 5 * time.Minute},
		Logger:   logger,
	}
}

// Install downloads the model files into dir. Files already present are
// kept unless force is set. Optional configuration files missing from the
// hub are skipped.
func (in *Installer) Install(ctx context.Context, dir string, force bool) ([]string, error) {
	if err := os.MkdirAll(filepath.Join(dir, filepath.Dir(PoolingConfigFile)), 0o755); err != nil {
		return nil, fmt.Errorf("create model directory: %w", err)
	}

	files := []struct {
		name     string
		required bool
	}{
		{ConfigFile, true},
		{VocabFile, true},
		{WeightsFile, true},
		{SentenceConfigFile, false},
		{TokenizerConfigFile, false},
		{PoolingConfigFile, false},
	}

	var installed []string
	for _, f := range files {
		dst := filepath.Join(dir, f.name)
		if _, err := os.Stat(dst); err == nil && !force {
			in.Logger.Info("Model file already present", "file", f.name)
			installed = append(installed, f.name)
			continue
		}

		err := in.downloadWithRetry(ctx, f.name, dst)
		if errors.Is(err, errNotOnHub) && !f.required {
			in.Logger.Debug("Optional model file not published", "file", f.name)
			continue
		}
		if err != nil {
			return installed, fmt.Errorf("download %s: %w", f.name, err)
		}
		installed = append(installed, f.name)
	}
	return installed, nil
}

// downloadWithRetry fetches one file, retrying server errors with
// exponential backoff.
func (in *Installer) downloadWithRetry(ctx context.Context, name, dst string) error {
	url := fmt.Sprintf("%s/%s/resolve/%s/%s", in.HubURL, in.Repo, in.Revision, name)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 2 * time.Minute

	return backoff.Retry(func() error {
		return in.download(ctx, url, dst)
	}, backoff.WithContext(b, ctx))
}

func (in *Installer) download(ctx context.Context, url, dst string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return backoff.Permanent(err)
	}
	if token := os.Getenv("HF_TOKEN"); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := in.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return backoff.Permanent(errNotOnHub)
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("hub returned %s", resp.Status)
	case resp.StatusCode != http.StatusOK:
		return backoff.Permanent(fmt.Errorf("hub returned %s", resp.Status))
	}

	tmp := dst + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return backoff.Permanent(err)
	}
	n, err := io.Copy(out, resp.Body)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		return backoff.Permanent(err)
	}
	in.Logger.Info("Downloaded model file", "file", filepath.Base(dst), "bytes", n)
	return nil
}
