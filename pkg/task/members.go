package task

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"

	"github.com/rius2g/splitgroup/pkg/logging"
)

// MaxIndexedMembers bounds the indexed key scan.
const MaxIndexedMembers = 100

const (
	ResultFile   = "result.json"
	ComputedFile = "computed.json"
	failMessage  = "Oops something went wrong"
)

var memberFields = []string{"members", "participants"}

type Result struct {
	Members map[string]string `json:"members"`
}

type Computed struct {
	DeterministicOutputPath string `json:"deterministic-output-path"`
	ErrorMessage            string `json:"error-message,omitempty"`
}

// ReadMembers extracts the index to address mapping. A direct object is
// preferred; otherwise keys <field>.0, <field>.1, ... are read until the
// first miss, never more than MaxIndexedMembers of them. Nothing found
// yields an empty mapping.
func ReadMembers(ctx context.Context, d Deserializer) map[string]string {
	logger := logging.Logger(ctx)

	for _, field := range memberFields {
		v, err := d.GetValue(field, KindObject)
		if err != nil {
			logger.Infow("could not read member object", "field", field, "error", err)
			continue
		}
		members := stringValues(v.(map[string]interface{}))
		logger.Infow("protected member object found", "field", field, "count", len(members))
		return members
	}

	for _, field := range memberFields {
		collected := make(map[string]string)
		for i := 0; i < MaxIndexedMembers; i++ {
			key := strconv.Itoa(i)
			v, err := d.GetValue(field+"."+key, KindString)
			if err != nil {
				break
			}
			collected[key] = v.(string)
		}
		if len(collected) > 0 {
			logger.Infow("collected members from indexed keys", "field", field, "count", len(collected))
			return collected
		}
	}
	return map[string]string{}
}

// stringValues keeps the object as found. Non string entries are printed
// and left for the reader of the result to reject.
func stringValues(m map[string]interface{}) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = s
			continue
		}
		out[k] = fmt.Sprint(v)
	}
	return out
}

// Compute renders the result document.
func Compute(ctx context.Context, d Deserializer) ([]byte, error) {
	return json.MarshalIndent(Result{Members: ReadMembers(ctx, d)}, "", "  ")
}

// Execute runs the task against outDir. computed.json is always written;
// it carries an error message when the result could not be produced.
func Execute(ctx context.Context, open func() (Deserializer, error), outDir string) (err error) {
	logger := logging.Logger(ctx)
	computed := Computed{DeterministicOutputPath: outDir}

	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("task panicked: %v", r)
		}
		if err != nil {
			logger.Errorw("task failed", "error", err)
			computed = Computed{DeterministicOutputPath: outDir, ErrorMessage: failMessage}
		}
		raw, mErr := json.Marshal(computed)
		if mErr != nil {
			err = errors.Wrap(mErr, "encode computed.json")
			return
		}
		if wErr := os.WriteFile(filepath.Join(outDir, ComputedFile), raw, 0o644); wErr != nil && err == nil {
			err = errors.Wrap(wErr, "write computed.json")
		}
	}()

	d, err := open()
	if err != nil {
		return err
	}
	result, err := Compute(ctx, d)
	if err != nil {
		return errors.Wrap(err, "encode result")
	}

	resultPath := filepath.Join(outDir, ResultFile)
	if err := os.WriteFile(resultPath, result, 0o644); err != nil {
		return errors.Wrap(err, "write result.json")
	}
	computed.DeterministicOutputPath = resultPath
	return nil
}

// App runs the task in process over a raw protected data document and
// returns the result document.
func App(ctx context.Context, payload []byte) ([]byte, error) {
	d, err := NewDocumentDeserializer(payload)
	if err != nil {
		return nil, err
	}
	return Compute(ctx, d)
}
