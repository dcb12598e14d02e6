package compose

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sternrassler/detectmap/pkg/client"
	"github.com/Sternrassler/detectmap/pkg/hal"
	"github.com/Sternrassler/detectmap/pkg/links"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBase = "https://hardware.api.keil.arm.com"

// fakeGetter serves device documents from memory.
type fakeGetter struct {
	mu       sync.Mutex
	docs     map[string]string
	delay    func(href string) time.Duration
	status   map[string]int
	requests []string
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (g *fakeGetter) GetJSON(ctx context.Context, href string, v any) error {
	g.mu.Lock()
	g.requests = append(g.requests, href)
	g.mu.Unlock()

	n := g.inFlight.Add(1)
	defer g.inFlight.Add(-1)
	for {
		peak := g.peak.Load()
		if n <= peak || g.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	if g.delay != nil {
		select {
		case <-time.After(g.delay(href)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if code, ok := g.status[href]; ok {
		return &client.FetchError{Path: href, StatusCode: code, ErrorClass: client.ErrorClassServer}
	}

	doc, ok := g.docs[href]
	if !ok {
		return &client.FetchError{Path: href, StatusCode: 404, ErrorClass: client.ErrorClassClient}
	}
	return json.Unmarshal([]byte(doc), v)
}

func deviceDoc(title, pack, self string) string {
	return fmt.Sprintf(`{"title":%q,"source_pack_id":%q,"_links":{"self":{"href":%q}}}`, title, pack, self)
}

func decodeBoards(t *testing.T, docs ...string) []hal.Board {
	t.Helper()
	boards := make([]hal.Board, len(docs))
	for i, doc := range docs {
		require.NoError(t, json.Unmarshal([]byte(doc), &boards[i]))
	}
	return boards
}

func newTestComposer(t *testing.T, getter Getter, cfg Config) *Composer {
	t.Helper()
	absolutizer, err := links.New(testBase)
	require.NoError(t, err)
	return NewComposer(getter, absolutizer, cfg)
}

func TestCompose_EndToEndExample(t *testing.T) {
	getter := &fakeGetter{docs: map[string]string{
		"/devices/9": deviceDoc("D9", "P1", "/devices/9"),
	}}
	boards := decodeBoards(t,
		`{"title":"A","detect_code":"X","_links":{"self":{"href":"/boards/1"},"device":[{"href":"/devices/9"}]}}`,
	)

	records, err := newTestComposer(t, getter, DefaultConfig()).Compose(context.Background(), boards)
	require.NoError(t, err)

	out, err := json.Marshal(records)
	require.NoError(t, err)

	expected := `[{"title":"A","detect_code":"X","devices":[{"title":"D9","source_pack_id":"P1","_links":{"device":{"href":"https://hardware.api.keil.arm.com/devices/9"}}}],"_links":{"board":{"href":"https://hardware.api.keil.arm.com/boards/1"}}}]`
	assert.JSONEq(t, expected, string(out))
}

func TestCompose_FiltersBoardsWithoutDetectCode(t *testing.T) {
	boards := decodeBoards(t,
		`{"title":"A","detect_code":"1","_links":{"self":{"href":"/boards/1"}}}`,
		`{"title":"B","_links":{"self":{"href":"/boards/2"}}}`,
		`{"title":"C","detect_code":null,"_links":{"self":{"href":"/boards/3"}}}`,
		`{"title":"D","detect_code":4,"_links":{"self":{"href":"/boards/4"}}}`,
		`{"title":"E","detect_code":"5","_links":{"self":{"href":"/boards/5"}}}`,
	)

	records, err := newTestComposer(t, &fakeGetter{}, DefaultConfig()).Compose(context.Background(), boards)
	require.NoError(t, err)

	titles := make([]string, 0, len(records))
	for _, r := range records {
		titles = append(titles, hal.Text(r.Title))
	}
	assert.Equal(t, []string{"A", "D", "E"}, titles)
	assert.JSONEq(t, `4`, string(records[1].DetectCode))
}

func TestCompose_BoardsWithoutDetectCodeAreNotValidated(t *testing.T) {
	// A dropped board is never inspected, even when malformed.
	boards := decodeBoards(t, `{"_links":{}}`)

	records, err := newTestComposer(t, &fakeGetter{}, DefaultConfig()).Compose(context.Background(), boards)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestCompose_EmptyDevicesEncodeAsArray(t *testing.T) {
	boards := decodeBoards(t, `{"title":"A","detect_code":"X","_links":{"self":{"href":"/boards/1"}}}`)

	records, err := newTestComposer(t, &fakeGetter{}, DefaultConfig()).Compose(context.Background(), boards)
	require.NoError(t, err)

	out, err := json.Marshal(records)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"devices":[]`)
}

func TestCompose_SingleDeviceObjectLink(t *testing.T) {
	getter := &fakeGetter{docs: map[string]string{
		"/devices/9": deviceDoc("D9", "P1", "/devices/9"),
	}}
	boards := decodeBoards(t, `{"title":"A","detect_code":"X","_links":{"self":{"href":"/boards/1"},"device":{"href":"/devices/9"}}}`)

	records, err := newTestComposer(t, getter, DefaultConfig()).Compose(context.Background(), boards)
	require.NoError(t, err)
	require.Len(t, records[0].Devices, 1)
	assert.JSONEq(t, `"D9"`, string(records[0].Devices[0].Title))
}

func TestCompose_PreservesOrderUnderConcurrency(t *testing.T) {
	docs := map[string]string{}
	var boardDocs []string
	var expected [][]string

	for b := 0; b < 6; b++ {
		var deviceLinks []string
		var titles []string
		for d := 0; d < 5; d++ {
			href := fmt.Sprintf("/devices/%d-%d", b, d)
			title := fmt.Sprintf("D%d-%d", b, d)
			docs[href] = deviceDoc(title, "P", href)
			deviceLinks = append(deviceLinks, fmt.Sprintf(`{"href":%q}`, href))
			titles = append(titles, title)
		}
		boardDocs = append(boardDocs, fmt.Sprintf(
			`{"title":"B%d","detect_code":"X","_links":{"self":{"href":"/boards/%d"},"device":[%s]}}`,
			b, b, strings.Join(deviceLinks, ","),
		))
		expected = append(expected, titles)
	}

	// Later links answer first, so completion order is the reverse of link order.
	getter := &fakeGetter{
		docs: docs,
		delay: func(href string) time.Duration {
			var b, d int
			fmt.Sscanf(href, "/devices/%d-%d", &b, &d)
			return time.Duration(60-(b*5+d)*2) * time.Millisecond
		},
	}

	cfg := DefaultConfig()
	cfg.MaxConcurrency = 8
	records, err := newTestComposer(t, getter, cfg).Compose(context.Background(), decodeBoards(t, boardDocs...))
	require.NoError(t, err)
	require.Len(t, records, 6)

	for b, record := range records {
		assert.Equal(t, fmt.Sprintf("B%d", b), hal.Text(record.Title))
		titles := make([]string, 0, len(record.Devices))
		for _, d := range record.Devices {
			titles = append(titles, hal.Text(d.Title))
		}
		assert.Equal(t, expected[b], titles)
	}

	assert.LessOrEqual(t, getter.peak.Load(), int32(8))
	assert.Greater(t, getter.peak.Load(), int32(1), "fan-out should overlap requests")
}

func TestCompose_SequentialWhenMaxConcurrencyIsOne(t *testing.T) {
	getter := &fakeGetter{docs: map[string]string{
		"/devices/1": deviceDoc("D1", "P", "/devices/1"),
		"/devices/2": deviceDoc("D2", "P", "/devices/2"),
		"/devices/3": deviceDoc("D3", "P", "/devices/3"),
	}}
	boards := decodeBoards(t,
		`{"title":"A","detect_code":"X","_links":{"self":{"href":"/boards/1"},"device":[{"href":"/devices/1"},{"href":"/devices/2"}]}}`,
		`{"title":"B","detect_code":"Y","_links":{"self":{"href":"/boards/2"},"device":[{"href":"/devices/3"}]}}`,
	)

	cfg := DefaultConfig()
	cfg.MaxConcurrency = 1
	_, err := newTestComposer(t, getter, cfg).Compose(context.Background(), boards)
	require.NoError(t, err)

	assert.Equal(t, []string{"/devices/1", "/devices/2", "/devices/3"}, getter.requests)
	assert.Equal(t, int32(1), getter.peak.Load())
}

func TestCompose_FetchErrorAbortsWithoutOutput(t *testing.T) {
	getter := &fakeGetter{
		docs: map[string]string{
			"/devices/1": deviceDoc("D1", "P", "/devices/1"),
			"/devices/3": deviceDoc("D3", "P", "/devices/3"),
		},
		status: map[string]int{"/devices/2": 503},
	}
	boards := decodeBoards(t,
		`{"title":"A","detect_code":"X","_links":{"self":{"href":"/boards/1"},"device":[{"href":"/devices/1"},{"href":"/devices/2"},{"href":"/devices/3"}]}}`,
	)

	for _, concurrency := range []int{1, 4} {
		t.Run(fmt.Sprintf("concurrency_%d", concurrency), func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.MaxConcurrency = concurrency

			records, err := newTestComposer(t, getter, cfg).Compose(context.Background(), boards)
			assert.Nil(t, records)

			var fetchErr *client.FetchError
			require.ErrorAs(t, err, &fetchErr)
			assert.Equal(t, "/devices/2", fetchErr.Path)
			assert.Equal(t, 503, fetchErr.StatusCode)
		})
	}
}

func TestCompose_MissingFields(t *testing.T) {
	tests := []struct {
		name      string
		board     string
		device    string
		wantField string
	}{
		{
			name:      "board without title",
			board:     `{"detect_code":"X","_links":{"self":{"href":"/boards/1"}}}`,
			wantField: "title",
		},
		{
			name:      "board without self",
			board:     `{"title":"A","detect_code":"X","_links":{}}`,
			wantField: "_links.self.href",
		},
		{
			name:      "device without source pack",
			board:     `{"title":"A","detect_code":"X","_links":{"self":{"href":"/boards/1"},"device":[{"href":"/devices/9"}]}}`,
			device:    `{"title":"D9","_links":{"self":{"href":"/devices/9"}}}`,
			wantField: "source_pack_id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			getter := &fakeGetter{docs: map[string]string{"/devices/9": tt.device}}

			records, err := newTestComposer(t, getter, DefaultConfig()).Compose(context.Background(), decodeBoards(t, tt.board))
			assert.Nil(t, records)
			require.ErrorIs(t, err, hal.ErrMissingField)

			var fieldErr *hal.FieldError
			require.ErrorAs(t, err, &fieldErr)
			assert.Equal(t, tt.wantField, fieldErr.Field)
		})
	}
}

func TestCompose_NullFieldsPassThrough(t *testing.T) {
	tests := []struct {
		name     string
		board    string
		device   string
		expected string
	}{
		{
			name:     "device with null source pack",
			board:    `{"title":"A","detect_code":"X","_links":{"self":{"href":"/boards/1"},"device":[{"href":"/devices/9"}]}}`,
			device:   `{"title":"D9","source_pack_id":null,"_links":{"self":{"href":"/devices/9"}}}`,
			expected: `[{"title":"A","detect_code":"X","devices":[{"title":"D9","source_pack_id":null,"_links":{"device":{"href":"https://hardware.api.keil.arm.com/devices/9"}}}],"_links":{"board":{"href":"https://hardware.api.keil.arm.com/boards/1"}}}]`,
		},
		{
			name:     "device with null title",
			board:    `{"title":"A","detect_code":"X","_links":{"self":{"href":"/boards/1"},"device":[{"href":"/devices/9"}]}}`,
			device:   `{"title":null,"source_pack_id":"P1","_links":{"self":{"href":"/devices/9"}}}`,
			expected: `[{"title":"A","detect_code":"X","devices":[{"title":null,"source_pack_id":"P1","_links":{"device":{"href":"https://hardware.api.keil.arm.com/devices/9"}}}],"_links":{"board":{"href":"https://hardware.api.keil.arm.com/boards/1"}}}]`,
		},
		{
			name:     "board with null title",
			board:    `{"title":null,"detect_code":"X","_links":{"self":{"href":"/boards/1"}}}`,
			expected: `[{"title":null,"detect_code":"X","devices":[],"_links":{"board":{"href":"https://hardware.api.keil.arm.com/boards/1"}}}]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			getter := &fakeGetter{docs: map[string]string{"/devices/9": tt.device}}

			records, err := newTestComposer(t, getter, DefaultConfig()).Compose(context.Background(), decodeBoards(t, tt.board))
			require.NoError(t, err)

			out, err := json.Marshal(records)
			require.NoError(t, err)
			assert.JSONEq(t, tt.expected, string(out))
		})
	}
}

func TestCompose_AbsoluteSelfLinksAreNotDoublePrefixed(t *testing.T) {
	getter := &fakeGetter{docs: map[string]string{
		testBase + "/devices/9": deviceDoc("D9", "P1", testBase+"/devices/9"),
	}}
	boards := decodeBoards(t, fmt.Sprintf(
		`{"title":"A","detect_code":"X","_links":{"self":{"href":%q},"device":[{"href":%q}]}}`,
		testBase+"/boards/1", testBase+"/devices/9",
	))

	records, err := newTestComposer(t, getter, DefaultConfig()).Compose(context.Background(), boards)
	require.NoError(t, err)

	assert.Equal(t, testBase+"/boards/1", records[0].Links["board"].Href)
	assert.Equal(t, testBase+"/devices/9", records[0].Devices[0].Links["device"].Href)
}

func TestCompose_InvalidSelfLink(t *testing.T) {
	boards := decodeBoards(t, `{"title":"A","detect_code":"X","_links":{"self":{"href":"boards/1"}}}`)

	_, err := newTestComposer(t, &fakeGetter{}, DefaultConfig()).Compose(context.Background(), boards)
	assert.True(t, errors.Is(err, links.ErrInvalidLink))
}

func TestCompose_CustomRelations(t *testing.T) {
	getter := &fakeGetter{docs: map[string]string{
		"/processors/1": deviceDoc("M4", "P", "/processors/1"),
	}}
	boards := decodeBoards(t, `{"title":"A","detect_code":"X","_links":{"self":{"href":"/kits/1"},"processor":[{"href":"/processors/1"}],"device":[{"href":"/devices/1"}]}}`)

	cfg := Config{Relation: "processor", RecordRelation: "kit"}
	records, err := newTestComposer(t, getter, cfg).Compose(context.Background(), boards)
	require.NoError(t, err)

	require.Len(t, records[0].Devices, 1)
	assert.Equal(t, testBase+"/processors/1", records[0].Devices[0].Links["processor"].Href)
	assert.Equal(t, testBase+"/kits/1", records[0].Links["kit"].Href)
}

func TestCompose_ContextCancelled(t *testing.T) {
	getter := &fakeGetter{
		docs:  map[string]string{"/devices/1": deviceDoc("D1", "P", "/devices/1")},
		delay: func(string) time.Duration { return time.Second },
	}
	boards := decodeBoards(t, `{"title":"A","detect_code":"X","_links":{"self":{"href":"/boards/1"},"device":[{"href":"/devices/1"}]}}`)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	records, err := newTestComposer(t, getter, DefaultConfig()).Compose(ctx, boards)
	assert.Nil(t, records)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewComposer_Defaults(t *testing.T) {
	c := newTestComposer(t, &fakeGetter{}, Config{})
	assert.Equal(t, DefaultConfig(), c.config)
}
