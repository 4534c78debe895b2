package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	perrors "peripheral/internal/errors"
)

func TestBuilder_Success(t *testing.T) {
	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	until := since.Add(24 * time.Hour)
	total := 340

	resp := New().
		Tool("get_latest_briefing").
		Data(map[string]int{"count": 20}).
		WithWindow(24, since, until).
		WithProvenance("memory", "news_item").
		WithTruncation(true, 20, &total, "max-articles").
		WarningWithCode(WarningGating, "hours clamped to 720").
		Build()

	if !resp.OK() {
		t.Fatal("expected success envelope")
	}
	if resp.SchemaVersion != CurrentSchemaVersion {
		t.Errorf("SchemaVersion = %q", resp.SchemaVersion)
	}
	if resp.Meta.Window.Hours != 24 || !resp.Meta.Window.Until.Equal(until) {
		t.Errorf("Window = %+v", resp.Meta.Window)
	}
	if resp.Meta.Truncation == nil || *resp.Meta.Truncation.Total != 340 {
		t.Errorf("Truncation = %+v", resp.Meta.Truncation)
	}
	if len(resp.Warnings) != 1 || resp.Warnings[0].Code != WarningGating {
		t.Errorf("Warnings = %+v", resp.Warnings)
	}
}

func TestBuilder_NoOps(t *testing.T) {
	resp := New().
		WithWindow(0, time.Time{}, time.Time{}).
		WithTruncation(false, 10, nil, "").
		WithProvenance("").
		Build()

	if resp.Meta != nil {
		t.Errorf("Meta should stay nil when nothing was recorded, got %+v", resp.Meta)
	}
}

func TestBuilder_WithCache(t *testing.T) {
	resp := New().WithCache(true, 2500*time.Millisecond).Build()
	if !resp.Meta.Cache.Hit || resp.Meta.Cache.Age != "2s" {
		t.Errorf("Cache = %+v", resp.Meta.Cache)
	}

	miss := New().WithCache(false, time.Minute).Build()
	if miss.Meta.Cache.Hit || miss.Meta.Cache.Age != "" {
		t.Errorf("miss Cache = %+v", miss.Meta.Cache)
	}
}

func TestErrorFrom(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantCode      string
		wantField     string
		wantRetryable bool
		wantCorrID    bool
		mustNotLeak   string
	}{
		{
			name:      "invalid parameter keeps field",
			err:       perrors.NewInvalidParameterError("hours", "must be > 0"),
			wantCode:  "INVALID_PARAMETER",
			wantField: "hours",
		},
		{
			name:     "not found",
			err:      perrors.NewNotFoundError("story", "abc"),
			wantCode: "NOT_FOUND",
		},
		{
			name:          "transient is retryable",
			err:           perrors.NewTransientError("fetch signal", errors.New("dial tcp 10.0.0.5:5432: refused")),
			wantCode:      "TRANSIENT_UNAVAILABLE",
			wantRetryable: true,
			wantCorrID:    true,
			mustNotLeak:   "10.0.0.5",
		},
		{
			name:        "plain error coerced to internal",
			err:         errors.New(`pq: relation "secret_table" does not exist`),
			wantCode:    "INTERNAL_ERROR",
			wantCorrID:  true,
			mustNotLeak: "secret_table",
		},
		{
			name:        "invalid filter hidden as internal",
			err:         perrors.NewInvalidFilterError(`column "x" does not exist`, nil),
			wantCode:    "INTERNAL_ERROR",
			wantCorrID:  true,
			mustNotLeak: `column "x"`,
		},
		{
			name:     "wrapped typed error",
			err:      fmt.Errorf("handler: %w", perrors.NewMethodNotFoundError("nope")),
			wantCode: "METHOD_NOT_FOUND",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := New().Data("discarded").Error(tt.err, "corr-1").Build()
			if resp.OK() {
				t.Fatal("expected error envelope")
			}
			if resp.Data != nil {
				t.Errorf("Data should be cleared on error, got %v", resp.Data)
			}
			info := resp.Error
			if info.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", info.Code, tt.wantCode)
			}
			if info.Field != tt.wantField {
				t.Errorf("Field = %q, want %q", info.Field, tt.wantField)
			}
			if info.Retryable != tt.wantRetryable {
				t.Errorf("Retryable = %v, want %v", info.Retryable, tt.wantRetryable)
			}
			if (info.CorrelationID != "") != tt.wantCorrID {
				t.Errorf("CorrelationID = %q, want present=%v", info.CorrelationID, tt.wantCorrID)
			}
			if tt.mustNotLeak != "" {
				raw, _ := json.Marshal(resp)
				if strings.Contains(string(raw), tt.mustNotLeak) {
					t.Errorf("envelope leaks %q: %s", tt.mustNotLeak, raw)
				}
			}
			if string(resp.ErrorCode()) != tt.wantCode {
				t.Errorf("ErrorCode() = %q", resp.ErrorCode())
			}
		})
	}
}

func TestResponse_JSONShape(t *testing.T) {
	resp := New().Tool("health_check").Data(map[string]string{"status": "ok"}).Build()

	raw, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	for _, key := range []string{"schemaVersion", "tool", "data"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("missing key %q in %s", key, raw)
		}
	}
	for _, key := range []string{"meta", "warnings", "error", "suggestedNextCalls"} {
		if _, ok := decoded[key]; ok {
			t.Errorf("empty %q should be omitted: %s", key, raw)
		}
	}
}

func TestSuggest(t *testing.T) {
	resp := New().
		Suggest("get_story_details", map[string]interface{}{"story_id": "s1"}, "top story").
		Build()

	if len(resp.SuggestedNextCalls) != 1 {
		t.Fatalf("SuggestedNextCalls = %d", len(resp.SuggestedNextCalls))
	}
	call := resp.SuggestedNextCalls[0]
	if call.Tool != "get_story_details" || call.Params["story_id"] != "s1" {
		t.Errorf("call = %+v", call)
	}
}
