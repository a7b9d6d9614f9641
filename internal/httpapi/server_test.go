package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Lllllllleong/labelflow/internal/config"
	"github.com/Lllllllleong/labelflow/internal/document"
	"github.com/Lllllllleong/labelflow/internal/jobs"
	"github.com/Lllllllleong/labelflow/internal/models"
	"github.com/Lllllllleong/labelflow/internal/services"
)

func label(serial, article, size, color string) string {
	return fmt.Sprintf("(01)04601234567890(21)%s\nАртикул: %s Цвет: %s Размер: %s", serial, article, color, size)
}

func newApp(t *testing.T) *services.App {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.InventoryDir = filepath.Join(dir, "inventory")
	cfg.ArtifactDir = filepath.Join(dir, "results")
	cfg.DatabasePath = filepath.Join(dir, "labelflow.db")
	cfg.CatalogPath = filepath.Join(dir, "catalog.db")
	cfg.DocumentFormat = "text"
	cfg.BusyTimeout = 5 * time.Second
	app, err := services.NewApp(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	t.Cleanup(func() { app.Close() })
	return app
}

func do(t *testing.T, h http.Handler, method, target string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, body))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func upload(t *testing.T, h http.Handler, name string, pages ...string) models.UploadResponse {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/documents?name="+url.QueryEscape(name),
		strings.NewReader(strings.Join(pages, document.PageBreak)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload %s: %d %s", name, rec.Code, rec.Body.String())
	}
	return decode[models.UploadResponse](t, rec)
}

func TestHealthz(t *testing.T) {
	h := New(newApp(t), nil).Routes()
	if rec := do(t, h, http.MethodGet, "/healthz", nil); rec.Code != http.StatusOK {
		t.Errorf("healthz = %d", rec.Code)
	}
}

func TestSyncOrderFlow(t *testing.T) {
	h := New(newApp(t), nil).Routes()
	up := upload(t, h, "stock.txt",
		label("U0001Q", "XA-1", "M", "красный"),
		label("U0002Q", "XA-1", "M", "красный"))
	if up.Pages != 2 || up.ID == "" {
		t.Fatalf("upload = %+v", up)
	}

	body := `{"orderLines":[{"article":"XA-1","size":"m","quantity":"3"}],"callbackContext":{"chat":1}}`
	rec := do(t, h, http.MethodPost, "/orders", strings.NewReader(body))
	if rec.Code != http.StatusOK {
		t.Fatalf("order: %d %s", rec.Code, rec.Body.String())
	}
	jr := decode[models.JobResult](t, rec)
	if jr.Status != models.StatusDone || jr.ArtifactPath == "" {
		t.Fatalf("result = %+v", jr)
	}
	if want := "XA-1 - размер: m, не хватило: 1"; jr.ShortageText != want {
		t.Errorf("shortage = %q, want %q", jr.ShortageText, want)
	}
	if string(jr.CallbackContext) != `{"chat":1}` {
		t.Errorf("callback context = %s", jr.CallbackContext)
	}

	art := do(t, h, http.MethodGet, "/artifacts/"+filepath.Base(jr.ArtifactPath), nil)
	if art.Code != http.StatusOK || strings.Count(art.Body.String(), "(21)") != 2 {
		t.Errorf("artifact: %d %q", art.Code, art.Body.String())
	}

	codes := do(t, h, http.MethodGet, "/reports/codes", nil)
	if got := strings.Count(codes.Body.String(), "\n"); got != 3 {
		t.Errorf("codes report has %d lines:\n%s", got, codes.Body.String())
	}
}

func TestQueuedOrder(t *testing.T) {
	app := newApp(t)
	q := jobs.New(func(ctx context.Context, id string, req models.OrderRequest) (*models.FulfillmentResult, error) {
		res, _, err := app.ProcessOrder(ctx, id, req)
		return res, err
	}, 1)
	q.Start(context.Background())
	defer q.Stop(context.Background())
	h := New(app, q).Routes()
	upload(t, h, "stock.txt", label("U0001Q", "XA-1", "M", "красный"))

	rec := do(t, h, http.MethodPost, "/orders",
		strings.NewReader(`{"orderLines":[{"article":"XA-1","size":"M","quantity":2}]}`))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("order: %d %s", rec.Code, rec.Body.String())
	}
	queued := decode[models.JobRecord](t, rec)
	if rec.Header().Get("Location") != "/jobs/"+queued.ID {
		t.Errorf("Location = %q", rec.Header().Get("Location"))
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		got := decode[models.JobRecord](t, do(t, h, http.MethodGet, "/jobs/"+queued.ID, nil))
		if got.Status == models.StatusDone {
			if got.Result == nil || got.Result.PageCount != 1 {
				t.Errorf("result = %+v", got.Result)
			}
			break
		}
		if got.Status == models.StatusFailed || time.Now().After(deadline) {
			t.Fatalf("job = %+v", got)
		}
		time.Sleep(10 * time.Millisecond)
	}

	csv := do(t, h, http.MethodGet, "/jobs/"+queued.ID+"/shortages.csv", nil)
	if want := "артикул,размер,не хватило\nXA-1,M,1\n"; csv.Code != http.StatusOK || csv.Body.String() != want {
		t.Errorf("shortages.csv: %d %q, want %q", csv.Code, csv.Body.String(), want)
	}

	if rec := do(t, h, http.MethodGet, "/jobs/unknown", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown job = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/jobs/unknown/shortages.csv", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown job shortages = %d", rec.Code)
	}
}

func TestErrorStatuses(t *testing.T) {
	h := New(newApp(t), nil).Routes()
	upload(t, h, "stock.txt", label("U0001Q", "XA-1", "M", "красный"))

	tests := []struct {
		name   string
		method string
		target string
		body   string
		want   int
	}{
		{"order without lines", http.MethodPost, "/orders", `{"orderLines":[]}`, http.StatusBadRequest},
		{"malformed order", http.MethodPost, "/orders", `{`, http.StatusBadRequest},
		{"upload without name", http.MethodPost, "/documents", "x", http.StatusBadRequest},
		{"upload working name", http.MethodPost, "/documents?name=a__head_1.txt", "x", http.StatusBadRequest},
		{"upload empty document", http.MethodPost, "/documents?name=a.txt", "", http.StatusUnprocessableEntity},
		{"split missing", http.MethodPost, "/documents/missing.txt/split", "", http.StatusNotFound},
		{"split parent", http.MethodPost, "/documents/../split", "", http.StatusBadRequest},
		{"artifact missing", http.MethodGet, "/artifacts/none.txt", "", http.StatusNotFound},
		{"artifact working name", http.MethodGet, "/artifacts/x__head_1.txt", "", http.StatusBadRequest},
		{"import wrong prefix", http.MethodPost, "/codes/import", "0199999999999999210000A\n", http.StatusUnprocessableEntity},
		{"jobs without queue", http.MethodGet, "/jobs/x", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.target, strings.NewReader(tt.body))
			if rec.Code != tt.want {
				t.Errorf("%s %s = %d %s, want %d", tt.method, tt.target, rec.Code, rec.Body.String(), tt.want)
			}
		})
	}
}

func TestSplitReturnPurgeAndReports(t *testing.T) {
	h := New(newApp(t), nil).Routes()
	upload(t, h, "партия.txt",
		label("R0001Q", "XA-1", "M", "красный"),
		label("B0001Q", "XA-1", "M", "синий"))

	rec := do(t, h, http.MethodPost, "/documents/"+url.PathEscape("партия.txt")+"/split", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("split: %d %s", rec.Code, rec.Body.String())
	}
	if split := decode[models.SplitResult](t, rec); len(split.Outputs) != 2 {
		t.Errorf("split = %+v", split)
	}

	inv := do(t, h, http.MethodGet, "/reports/inventory", nil)
	want := "артикул,размер,цвет,количество\nXA-1,M,красный,2\nXA-1,M,синий,2\n"
	if inv.Body.String() != want {
		t.Errorf("inventory report =\n%s", inv.Body.String())
	}

	imp := do(t, h, http.MethodPost, "/codes/import", strings.NewReader("0104601234567890"+"21R0001Q\n"))
	if res := decode[models.ImportResult](t, imp); imp.Code != http.StatusOK || res.Added != 1 {
		t.Fatalf("import: %d %s", imp.Code, imp.Body.String())
	}
	purge := do(t, h, http.MethodPost, "/purge", nil)
	if stats := decode[models.PurgeStats](t, purge); stats.PagesDeleted != 2 {
		t.Errorf("purge = %+v", stats)
	}

	ret := do(t, h, http.MethodPost, "/returns?name="+url.QueryEscape("возврат.txt"),
		bytes.NewBufferString(label("R0001Q", "XA-1", "M", "красный")))
	if ret.Code != http.StatusOK {
		t.Fatalf("return: %d %s", ret.Code, ret.Body.String())
	}
	if res := decode[models.ReturnResult](t, ret); res.CodesReleased != 1 || len(res.Split.Outputs) != 1 {
		t.Errorf("return = %+v", res)
	}
}
