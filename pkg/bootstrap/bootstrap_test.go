package bootstrap

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rius2g/splitgroup/pkg/config"
	"github.com/rius2g/splitgroup/pkg/dataprotector"
	"github.com/rius2g/splitgroup/pkg/storage"
	"github.com/rius2g/splitgroup/pkg/task"
	t "github.com/rius2g/splitgroup/pkg/types"
)

type staticSigner struct{ addr common.Address }

func (s staticSigner) Connected() bool { return true }
func (s staticSigner) Address() common.Address { return s.addr }
func (s staticSigner) SignText([]byte) ([]byte, error) { return nil, nil }

func TestChainConfigConvertsGwei(tt *testing.T) {
	cfg := config.Default()
	cfg.Contracts.FactoryAddress = "0x00000000000000000000000000000000000fac70"
	cfg.Contracts.GasPriceCapGwei = 7

	cc := ChainConfig(cfg)
	assert.Equal(tt, common.HexToAddress("0x00000000000000000000000000000000000fac70"), cc.FactoryAddress)
	assert.Equal(tt, uint64(11155111), cc.ChainID)
	assert.Equal(tt, 0, cc.GasPriceCap.Cmp(big.NewInt(7_000_000_000)))
}

func TestAuthorizedApps(tt *testing.T) {
	cfg := config.Default()
	apps, err := AuthorizedApps(cfg)
	require.NoError(tt, err)
	app, err := apps.For(421614)
	require.NoError(tt, err)
	assert.Equal(tt, LocalMemberApp, app)

	cfg.DataProtector.Mode = config.ModeRemote
	apps, err = AuthorizedApps(cfg)
	require.NoError(tt, err)
	_, err = apps.For(421614)
	assert.Error(tt, err, "remote mode needs an explicit app")

	cfg.DataProtector.AuthorizedApps = []config.AuthorizedApp{{ChainID: 421614, Address: "0x00000000000000000000000000000000000a4402"}}
	apps, err = AuthorizedApps(cfg)
	require.NoError(tt, err)
	assert.Equal(tt, common.HexToAddress("0x00000000000000000000000000000000000a4402"), apps[421614])

	cfg.DataProtector.AuthorizedApps = []config.AuthorizedApp{{ChainID: 421614, Address: "nope"}}
	_, err = AuthorizedApps(cfg)
	assert.Error(tt, err)
}

func TestLocalProtectorRunsMemberTask(tt *testing.T) {
	ctx := context.Background()
	owner := common.HexToAddress("0x1111111111111111111111111111111111111111")
	svc := NewProtector(config.Default(), staticSigner{addr: owner})
	require.IsType(tt, &dataprotector.Local{}, svc)

	pd, err := svc.ProtectData(ctx, "Protected members for group Rome Trip", map[string]interface{}{
		"members": map[string]interface{}{"0": owner.Hex()},
	})
	require.NoError(tt, err)

	res, err := svc.ProcessProtectedData(ctx, t.ProcessRequest{ProtectedData: pd.Address.Hex(), App: LocalMemberApp.Hex(), Path: task.ResultFile})
	require.NoError(tt, err)
	assert.JSONEq(tt, `{"members":{"0":"`+owner.Hex()+`"}}`, string(res.Result))
}

func TestRemoteProtector(tt *testing.T) {
	cfg := config.Default()
	cfg.DataProtector.Mode = config.ModeRemote
	cfg.DataProtector.URL = "http://127.0.0.1:1"
	assert.IsType(tt, &dataprotector.Client{}, NewProtector(cfg, staticSigner{}))
}

func TestOpenStore(tt *testing.T) {
	s, err := OpenStore(config.Storage{Driver: "memory"})
	require.NoError(tt, err)
	assert.IsType(tt, &storage.InMemoryStore{}, s)

	path := filepath.Join(tt.TempDir(), "nested", "flows.db")
	s, err = OpenStore(config.Storage{Driver: "sqlite", Path: path})
	require.NoError(tt, err)
	defer s.Close()
	assert.FileExists(tt, path)

	_, err = OpenStore(config.Storage{Driver: "postgres"})
	assert.Error(tt, err)
}
