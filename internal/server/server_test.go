package server_test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"galileosync/internal/server"
	"galileosync/internal/wireerr"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *server.Client {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return server.NewClient(ts.URL)
}

func TestRequestStatusHappyPath(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<galileo-server version="2.0"></galileo-server>`)
	})
	require.NoError(t, c.RequestStatus())
}

func TestSyncHappyPathReturnsDecodedResponse(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<galileo-server version="2.0">`+
			`<tracker type="megadumpresponse" tracker-id="aabbccddeeff"><data>aGVsbG8=</data></tracker>`+
			`</galileo-server>`)
	})
	data, err := c.Sync("aabbccddeeff", "ZHVtcA==")
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), data)
}

func TestSyncMissingTrackerIsSyncError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<galileo-server version="2.0"></galileo-server>`)
	})
	_, err := c.Sync("aabbccddeeff", "ZHVtcA==")
	var syncErr *wireerr.SyncError
	require.ErrorAs(t, err, &syncErr)
}

func TestSyncMismatchedTrackerIDIsSyncError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<galileo-server version="2.0">`+
			`<tracker type="megadumpresponse" tracker-id="000000000000"><data>aGVsbG8=</data></tracker>`+
			`</galileo-server>`)
	})
	_, err := c.Sync("aabbccddeeff", "ZHVtcA==")
	var syncErr *wireerr.SyncError
	require.ErrorAs(t, err, &syncErr)
}

func TestSyncServerErrorIsSyncError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<galileo-server version="2.0"><error>unknown tracker</error></galileo-server>`)
	})
	_, err := c.Sync("aabbccddeeff", "ZHVtcA==")
	var syncErr *wireerr.SyncError
	require.ErrorAs(t, err, &syncErr)
	require.Contains(t, syncErr.Error(), "unknown tracker")
}

func TestSyncBackOffIsBackOffError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<galileo-server version="2.0"><back-off><min>60000</min><max>120000</max></back-off></galileo-server>`)
	})
	_, err := c.Sync("aabbccddeeff", "ZHVtcA==")
	var backOff *wireerr.BackOff
	require.ErrorAs(t, err, &backOff)
	require.Equal(t, 60000, backOff.Min)
	require.Equal(t, 120000, backOff.Max)
}

func TestSyncVersionMismatchIsNonFatal(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<galileo-server version="9.9">`+
			`<tracker type="megadumpresponse" tracker-id="aabbccddeeff"><data>aGVsbG8=</data></tracker>`+
			`</galileo-server>`)
	})
	_, err := c.Sync("aabbccddeeff", "ZHVtcA==")
	require.NoError(t, err)
}

func TestConnectionFailureWrapsErrConnection(t *testing.T) {
	c := server.NewClient("http://127.0.0.1:1") // nothing listens here
	err := c.RequestStatus()
	require.ErrorIs(t, err, wireerr.ErrConnection)
}
