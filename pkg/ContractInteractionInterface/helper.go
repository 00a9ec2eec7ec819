package ContractInteraction

import (
	"context"
	"sort"

	"github.com/rius2g/splitgroup/pkg/logging"
)

// LogEvent writes one structured record for a chain-side event.
func LogEvent(ctx context.Context, event string, record map[string]any) {
	keys := make([]string, 0, len(record))
	for k := range record {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	kv := make([]any, 0, 2*len(record)+2)
	kv = append(kv, "event", event)
	for _, k := range keys {
		kv = append(kv, k, record[k])
	}
	logging.Logger(ctx).Infow(event, kv...)
}
