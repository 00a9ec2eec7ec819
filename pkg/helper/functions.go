package helper

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	t "github.com/rius2g/splitgroup/pkg/types"
)

const ProtectedDataPrefix = "Splitwise Group Participants - "

// NormalizeAddress validates a 0x address and returns it checksummed.
func NormalizeAddress(raw string) (common.Address, error) {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return common.Address{}, errors.Wrapf(t.ErrInvalidAddress, "%q", raw)
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, errors.Wrapf(t.ErrInvalidAddress, "%q", raw)
	}
	addr := common.HexToAddress(s)
	if addr == (common.Address{}) {
		return common.Address{}, errors.Wrapf(t.ErrInvalidAddress, "zero address")
	}
	return addr, nil
}

// NormalizeParticipants checksums and de-duplicates list, keeping the first
// occurrence. A non-zero creator always comes first.
func NormalizeParticipants(creator common.Address, list []string) ([]common.Address, error) {
	seen := make(map[common.Address]bool, len(list)+1)
	out := make([]common.Address, 0, len(list)+1)

	if creator != (common.Address{}) {
		seen[creator] = true
		out = append(out, creator)
	}

	for _, raw := range list {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		addr, err := NormalizeAddress(raw)
		if err != nil {
			return nil, err
		}
		if seen[addr] {
			continue
		}
		seen[addr] = true
		out = append(out, addr)
	}
	return out, nil
}

// IndexParticipants shapes the list as {"0": addr0, "1": addr1, ...}.
func IndexParticipants(list []common.Address) map[string]string {
	out := make(map[string]string, len(list))
	for i, addr := range list {
		out[strconv.Itoa(i)] = addr.Hex()
	}
	return out
}

// ParticipantsFromIndex is the inverse of IndexParticipants. Keys are
// ordered numerically; gaps are tolerated.
func ParticipantsFromIndex(m map[string]string) ([]common.Address, error) {
	type entry struct {
		idx  int
		addr common.Address
	}
	entries := make([]entry, 0, len(m))
	for k, v := range m {
		idx, err := strconv.Atoi(k)
		if err != nil || idx < 0 {
			return nil, errors.Wrapf(t.ErrUnexpectedResult, "index key %q", k)
		}
		addr, err := NormalizeAddress(v)
		if err != nil {
			return nil, errors.Wrapf(t.ErrUnexpectedResult, "member %s: %v", k, err)
		}
		entries = append(entries, entry{idx: idx, addr: addr})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].idx < entries[j].idx })

	out := make([]common.Address, len(entries))
	for i, e := range entries {
		out[i] = e.addr
	}
	return out, nil
}

func ProtectedDataName(groupName string) string {
	return ProtectedDataPrefix + strings.TrimSpace(groupName)
}

// ShortAddress renders 0x1234…abcd for log lines.
func ShortAddress(addr common.Address) string {
	h := addr.Hex()
	return fmt.Sprintf("%s…%s", h[:6], h[len(h)-4:])
}
