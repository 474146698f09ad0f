package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaypulse/relaypulse/anchor"
	"github.com/relaypulse/relaypulse/common"
	"github.com/relaypulse/relaypulse/epoch"
	"github.com/relaypulse/relaypulse/ledger"
	"github.com/relaypulse/relaypulse/oracle"
)

var (
	admin  = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	relay1 = common.HexToAddress("0x1111111111111111111111111111111111111111")
)

type alwaysAlive struct{}

func (alwaysAlive) Alive(ctx context.Context, endpoint string) bool { return true }

func newTestRouter(t *testing.T) (*mux.Router, *ledger.Ledger, *oracle.Coordinator) {
	t.Helper()
	a, err := anchor.NewAnchor("", admin, anchor.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	l, err := ledger.NewLedger(ledger.Config{Anchor: a})
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	c := oracle.New(oracle.Config{
		Identity:  admin,
		Directory: l,
		Clock:     epoch.NewClockAt(time.Hour, func() time.Time { return time.Unix(50*3600, 0) }),
		Probe:     alwaysAlive{},
		Anchor:    a,
	})

	r := mux.NewRouter()
	RegisterRoutes(r, NewHandler(l, a, c))
	return r, l, c
}

func doGet(t *testing.T, r *mux.Router, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var body map[string]interface{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestStatusEndpoint(t *testing.T) {
	r, l, c := newTestRouter(t)
	require.NoError(t, l.Join(relay1, "ws://r1.example.com/gun", uint256.NewInt(1000)))
	_, err := c.RunCycle(context.Background())
	require.NoError(t, err)

	rec, body := doGet(t, r, "/status")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["relays"])
	assert.Equal(t, "1000", body["totalStake"])
	assert.EqualValues(t, 50, body["lastEpoch"])
	assert.Contains(t, body, "lastCycle")
}

func TestRootEndpoint(t *testing.T) {
	r, l, c := newTestRouter(t)
	require.NoError(t, l.Join(relay1, "ws://r1.example.com/gun", uint256.NewInt(1000)))
	report, err := c.RunCycle(context.Background())
	require.NoError(t, err)

	rec, body := doGet(t, r, "/roots/50")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, report.Root.Hex(), body["root"])

	rec, _ = doGet(t, r, "/roots/51")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = doGet(t, r, "/roots/not-a-number")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRelaysEndpoints(t *testing.T) {
	r, l, _ := newTestRouter(t)
	require.NoError(t, l.Join(relay1, "ws://r1.example.com/gun", uint256.NewInt(1000)))

	rec, body := doGet(t, r, "/relays")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["count"])

	rec, body = doGet(t, r, "/relays/"+relay1.Hex())
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ws://r1.example.com/gun", body["url"])

	rec, _ = doGet(t, r, "/relays/0x2222222222222222222222222222222222222222")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = doGet(t, r, "/relays/zzz")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
