package ContractInteraction

import (
	_ "embed"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/pkg/errors"
)

//go:embed abi/GroupFactory.json
var groupFactoryABI string

//go:embed abi/Group.json
var groupABI string

func LoadFactoryABI() (abi.ABI, error) {
	return loadABI("GroupFactory", groupFactoryABI)
}

func LoadGroupABI() (abi.ABI, error) {
	return loadABI("Group", groupABI)
}

func loadABI(name, raw string) (abi.ABI, error) {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		return abi.ABI{}, errors.Wrapf(err, "parse %s ABI", name)
	}
	return parsed, nil
}
