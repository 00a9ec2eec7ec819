package types

import (
	"github.com/pkg/errors"
)

var (
	ErrNotConnected       = errors.New("wallet not connected")
	ErrWrongNetwork       = errors.New("wrong network")
	ErrUnsupportedNetwork = errors.New("network not configured")
	ErrInvalidAddress     = errors.New("invalid address")
	ErrTransactionFailed  = errors.New("transaction failed")
	ErrGroupNotDetected   = errors.New("unable to detect new group address from receipt")
	ErrNotInitialized     = errors.New("data protector not initialized")
	ErrAccessNotGranted   = errors.New("access not granted for this wallet")
	ErrUnexpectedResult   = errors.New("unexpected result format")
	ErrEmptyName          = errors.New("group name is required")
	ErrNoParticipants     = errors.New("add at least one participant")
	ErrPushNotReady       = errors.New("group and protected data addresses are both required")
	ErrNoProtectedData    = errors.New("group has no protected members data")
	ErrFlowNotFound       = errors.New("flow not found")
	ErrFlowConflict       = errors.New("request conflicts with the group creation flow")
)

var userMessages = []struct {
	err error
	msg string
}{
	{ErrNotConnected, "Connect your wallet first"},
	{ErrWrongNetwork, "Wrong network"},
	{ErrUnsupportedNetwork, "Wrong network"},
	{ErrInvalidAddress, "Invalid address"},
	{ErrGroupNotDetected, "Unable to detect new group address"},
	{ErrTransactionFailed, "Transaction failed"},
	{ErrNotInitialized, "Data protector not initialized"},
	{ErrAccessNotGranted, "Access not granted for this wallet"},
	{ErrUnexpectedResult, "Unexpected result format"},
	{ErrEmptyName, "Enter a group name"},
	{ErrNoParticipants, "Add at least one participant"},
	{ErrPushNotReady, "Invalid group or data address"},
	{ErrNoProtectedData, "Group has no protected members"},
	{ErrFlowNotFound, "Unknown group creation flow"},
	{ErrFlowConflict, "Step conflicts with the group creation flow"},
}

// UserMessage maps err to the short string shown to the user. Wrapped
// context is kept after the base message for errors outside the taxonomy.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	for _, m := range userMessages {
		if errors.Is(err, m.err) {
			if m.err == ErrWrongNetwork {
				return err.Error()
			}
			return m.msg
		}
	}
	return err.Error()
}
