package task

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rius2g/splitgroup/pkg/logging"
)

// Env is what the enclave hands the task.
type Env struct {
	InDir           string
	OutDir          string
	DatasetFilename string
	Secrets         map[string]string
}

var secretVars = []string{
	"IEXEC_APP_DEVELOPER_SECRET",
	"IEXEC_REQUESTER_SECRET_1",
	"IEXEC_REQUESTER_SECRET_42",
}

func LoadEnv() Env {
	env := Env{
		InDir:           os.Getenv("IEXEC_IN"),
		OutDir:          os.Getenv("IEXEC_OUT"),
		DatasetFilename: os.Getenv("IEXEC_DATASET_FILENAME"),
		Secrets:         make(map[string]string),
	}
	for _, name := range secretVars {
		if v := os.Getenv(name); v != "" {
			env.Secrets[name] = v
		}
	}
	if env.OutDir == "" {
		env.OutDir = "."
	}
	return env
}

// DatasetPath is empty when no protected data was attached.
func (e Env) DatasetPath() string {
	if e.DatasetFilename == "" {
		return ""
	}
	return filepath.Join(e.InDir, e.DatasetFilename)
}

// LogSecrets reports which secrets were provided without revealing them.
func (e Env) LogSecrets(ctx context.Context) {
	logger := logging.Logger(ctx)
	for _, name := range secretVars {
		if v, ok := e.Secrets[name]; ok {
			logger.Infow("secret provided", "name", name, "value", Redact(v))
		}
	}
}

func Redact(secret string) string {
	return strings.Repeat("*", len([]rune(secret)))
}
