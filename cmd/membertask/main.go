package main

import (
	"context"
	"os"

	"github.com/rius2g/splitgroup/pkg/logging"
	"github.com/rius2g/splitgroup/pkg/task"
)

// membertask is the confidential app that reads a protected member list and
// writes it back as result.json under IEXEC_OUT.
func main() {
	ctx := context.Background()
	log := logging.Logger(ctx)

	env := task.LoadEnv()
	env.LogSecrets(ctx)

	open := func() (task.Deserializer, error) {
		path := env.DatasetPath()
		if path == "" {
			log.Warn("no protected data attached, result has no members")
			return task.NewDocumentDeserializer([]byte("{}"))
		}
		return task.OpenDocument(path)
	}

	if err := task.Execute(ctx, open, env.OutDir); err != nil {
		log.Errorw("member task failed", "error", err)
		os.Exit(1)
	}
	log.Infow("member task done", "out", env.OutDir)
}
