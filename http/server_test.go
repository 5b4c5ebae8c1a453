package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medcost/insurance"
	"medcost/ml"
	"medcost/monitoring"
)

type fakePredictor struct {
	charges   float64
	err       error
	panicWith any
	schemaErr error

	mu    sync.Mutex
	calls []insurance.Record
}

func (f *fakePredictor) Calls() []insurance.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]insurance.Record(nil), f.calls...)
}

func (f *fakePredictor) Predict(_ context.Context, record insurance.Record) (*ml.Prediction, error) {
	f.mu.Lock()
	f.calls = append(f.calls, record)
	f.mu.Unlock()
	if f.panicWith != nil {
		panic(f.panicWith)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &ml.Prediction{
		Charges: decimal.NewFromFloat(f.charges).Round(ml.DisplayPlaces),
		Raw:     f.charges,
	}, nil
}

func (f *fakePredictor) Schema() (ml.Schema, error) {
	if f.schemaErr != nil {
		return nil, f.schemaErr
	}
	return ml.Schema{"a", "b", "c"}, nil
}

func newTestServer(t *testing.T, predictor Predictor) (*Server, *monitoring.Metrics) {
	t.Helper()
	metrics := monitoring.New(prometheus.NewRegistry())
	srv := NewServer(DefaultServerConfig(), Deps{
		Predictor:  predictor,
		Columns:    insurance.ChineseColumns(),
		Categories: insurance.ChineseCategories(),
		Metrics:    metrics,
	})
	return srv, metrics
}

func validForm() url.Values {
	return url.Values{
		"age":      {"30"},
		"sex":      {"男性"},
		"bmi":      {"25.0"},
		"children": {"0"},
		"smoker":   {"否"},
		"region":   {"东南部"},
	}
}

func postForm(h http.Handler, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func get(h http.Handler, target string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
	return rr
}

func TestSelectPage(t *testing.T) {
	assert.Equal(t, PageIntro, SelectPage(""))
	assert.Equal(t, PageIntro, SelectPage("intro"))
	assert.Equal(t, PagePredict, SelectPage("predict"))
	assert.Equal(t, PageIntro, SelectPage("admin"))
}

func TestIndexDefaultsToIntroduction(t *testing.T) {
	srv, _ := newTestServer(t, &fakePredictor{})

	rr := get(srv.Handler(), "/")
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, "欢迎使用")
	assert.NotContains(t, body, `name="age"`)
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
}

func TestIndexRendersPredictionForm(t *testing.T) {
	srv, _ := newTestServer(t, &fakePredictor{})

	rr := get(srv.Handler(), "/?nav=predict")
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, `name="age" min="0" step="1" value="0"`)
	assert.Contains(t, body, `name="bmi" min="0" step="0.01" value="0.00"`)
	assert.Contains(t, body, `value="男性" checked`)
	assert.Contains(t, body, `value="是" checked`)
	assert.Contains(t, body, `<option value="东南部" selected>`)
	assert.Contains(t, body, "子女数量")
}

func TestPredictFormShowsRoundedResult(t *testing.T) {
	fake := &fakePredictor{charges: 4321.005}
	srv, metrics := newTestServer(t, fake)

	rr := postForm(srv.Handler(), validForm())
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `<span id="charges">4321.01</span>`)

	calls := fake.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, insurance.Record{Age: 30, Sex: "男性", BMI: 25, Children: 0, Smoker: "否", Region: "东南部"}, calls[0])
	assert.Equal(t, 1.0, prometheusCount(metrics, monitoring.ResultOK))
}

func TestPredictFormArtifactMissing(t *testing.T) {
	fake := &fakePredictor{err: fmt.Errorf("load: %w", ml.ErrModelMissing)}
	srv, metrics := newTestServer(t, fake)

	rr := postForm(srv.Handler(), validForm())
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, "请先运行 train_model 生成模型文件")
	assert.NotContains(t, body, `id="charges"`)
	// navigation stays usable
	assert.Contains(t, body, `href="/?nav=intro"`)
	assert.Equal(t, 1.0, prometheusCount(metrics, monitoring.ResultArtifactMissing))
}

func TestPredictFormRejectsOutOfRangeInput(t *testing.T) {
	cases := map[string]func(url.Values){
		"unknown region":  func(v url.Values) { v.Set("region", "火星") },
		"negative age":    func(v url.Values) { v.Set("age", "-1") },
		"fractional kids": func(v url.Values) { v.Set("children", "1.5") },
		"bmi not number":  func(v url.Values) { v.Set("bmi", "heavy") },
		"bmi NaN":         func(v url.Values) { v.Set("bmi", "NaN") },
		"bmi Inf":         func(v url.Values) { v.Set("bmi", "Inf") },
		"bmi +Inf":        func(v url.Values) { v.Set("bmi", "+Inf") },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			fake := &fakePredictor{charges: 1}
			srv, _ := newTestServer(t, fake)
			form := validForm()
			mutate(form)

			rr := postForm(srv.Handler(), form)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Contains(t, rr.Body.String(), "输入无效")
			assert.Empty(t, fake.Calls())
		})
	}
}

func TestPredictFormKeepsUserInput(t *testing.T) {
	srv, _ := newTestServer(t, &fakePredictor{err: ml.ErrPrediction})
	form := validForm()
	form.Set("sex", "女性")
	form.Set("region", "西北部")

	rr := postForm(srv.Handler(), form)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, "预测失败")
	assert.Contains(t, body, `value="女性" checked`)
	assert.Contains(t, body, `<option value="西北部" selected>`)
}

func TestPredictAPI(t *testing.T) {
	srv, _ := newTestServer(t, &fakePredictor{charges: 1234.5678})

	body := `{"age":30,"sex":"男性","bmi":25,"children":0,"smoker":"否","region":"东南部"}`
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/predict", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rr.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "1234.57", resp["charges"])
	assert.InDelta(t, 1234.5678, resp["raw"], 1e-9)
}

func TestPredictAPIStatusMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		body string
		want int
		code string
	}{
		{"schema missing", ml.ErrSchemaMissing, "", http.StatusServiceUnavailable, monitoring.ResultArtifactMissing},
		{"prediction failure", fmt.Errorf("%w: boom", ml.ErrPrediction), "", http.StatusInternalServerError, monitoring.ResultError},
		{"malformed artifact", ml.ErrArtifactMalformed, "", http.StatusInternalServerError, monitoring.ResultError},
		{"bad json", nil, `{"age":`, http.StatusBadRequest, monitoring.ResultInvalidInput},
		{"unknown smoker", nil, `{"age":30,"sex":"男性","bmi":25,"children":0,"smoker":"maybe","region":"东南部"}`, http.StatusBadRequest, monitoring.ResultInvalidInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv, _ := newTestServer(t, &fakePredictor{err: tc.err})
			body := tc.body
			if body == "" {
				body = `{"age":30,"sex":"男性","bmi":25,"children":0,"smoker":"否","region":"东南部"}`
			}
			rr := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/predict", strings.NewReader(body)))

			assert.Equal(t, tc.want, rr.Code)
			var resp PredictResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			assert.Equal(t, tc.code, resp.Code)
			assert.NotEmpty(t, resp.Error)
			assert.Nil(t, resp.Charges)
		})
	}
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, &fakePredictor{})
	rr := get(srv.Handler(), "/api/health")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok","artifacts":"ready","features":3}`, rr.Body.String())

	srv, _ = newTestServer(t, &fakePredictor{schemaErr: ml.ErrSchemaMissing})
	rr = get(srv.Handler(), "/api/health")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok","artifacts":"missing"}`, rr.Body.String())
}

func TestPanicBecomes500(t *testing.T) {
	srv, _ := newTestServer(t, &fakePredictor{panicWith: "index out of range"})

	rr := postForm(srv.Handler(), validForm())
	assert.Equal(t, http.StatusInternalServerError, rr.Code)

	// the server keeps answering
	assert.Equal(t, http.StatusOK, get(srv.Handler(), "/api/health").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &fakePredictor{charges: 10})
	postForm(srv.Handler(), validForm())

	rr := get(srv.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `medcost_predictions_total{result="ok"} 1`)
	assert.Contains(t, rr.Body.String(), `http_requests_total{method="POST",path="/predict",status="200"} 1`)
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := newTestServer(t, &fakePredictor{})
	req := httptest.NewRequest(http.MethodOptions, "/api/predict", nil)
	req.Header.Set("Origin", "http://example.com")
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "http://example.com", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestWebSocketPredictsPerMessage(t *testing.T) {
	fake := &fakePredictor{charges: 999.999}
	srv, _ := newTestServer(t, fake)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/api/ws/predict", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	record := insurance.Record{Age: 30, Sex: "男性", BMI: 25, Children: 0, Smoker: "否", Region: "东南部"}
	require.NoError(t, conn.WriteJSON(record))
	var reply PredictResponse
	require.NoError(t, conn.ReadJSON(&reply))
	require.NotNil(t, reply.Charges)
	assert.Equal(t, "1000.00", reply.Charges.StringFixed(2))
	assert.Equal(t, http.StatusOK, reply.Status)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"age":-3}`)))
	reply = PredictResponse{}
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, http.StatusBadRequest, reply.Status)
	assert.Equal(t, monitoring.ResultInvalidInput, reply.Code)

	assert.Len(t, fake.Calls(), 1)
}

// End to end against real artifacts written by the trainer.
func TestPredictFormWithTrainedArtifacts(t *testing.T) {
	dir := t.TempDir()
	paths := ml.ArtifactPaths{
		SchemaPath: filepath.Join(dir, "feature_columns.json"),
		ModelPath:  filepath.Join(dir, "rfr_model.json"),
		ModelType:  ml.ModelTypeRandomForest,
	}
	encoder := ml.NewEncoder(insurance.ChineseColumns(), insurance.ChineseCategories())
	predictor := ml.NewPredictor(encoder, ml.PredictorConfig{Paths: paths}, nil, nil)
	srv, _ := newTestServer(t, predictor)

	// before training the form explains what to do
	rr := postForm(srv.Handler(), validForm())
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "请先运行 train_model 生成特征列文件")

	trainer := ml.NewTrainer(encoder, ml.TrainingConfig{
		ModelType:  ml.ModelTypeRandomForest,
		TrainRatio: 0.8,
		SplitSeed:  42,
		Params:     ml.ForestParams{NEstimators: 5, Seed: 1},
	}, nil)
	_, err := trainer.Run(context.Background(), chineseSamples(), paths)
	require.NoError(t, err)

	first := postForm(srv.Handler(), validForm())
	require.Equal(t, http.StatusOK, first.Code)
	second := postForm(srv.Handler(), validForm())
	assert.Equal(t, extractCharges(t, first.Body), extractCharges(t, second.Body))
}

type samplesSource []insurance.Sample

func (s samplesSource) Load(context.Context) ([]insurance.Sample, error) {
	return s, nil
}

func chineseSamples() samplesSource {
	cats := insurance.ChineseCategories()
	var samples samplesSource
	for i := 0; i < 40; i++ {
		rec := insurance.Record{
			Age:      20 + i,
			Sex:      cats.Sex[i%2],
			BMI:      20 + float64(i%10),
			Children: i % 4,
			Smoker:   cats.Smoker[i%2],
			Region:   cats.Region[i%4],
		}
		charges := 1000 + 200*float64(rec.Age)
		if rec.Smoker == "是" {
			charges += 15000
		}
		samples = append(samples, insurance.Sample{Record: rec, Charges: charges})
	}
	return samples
}

func extractCharges(t *testing.T, body io.Reader) string {
	t.Helper()
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	_, rest, ok := strings.Cut(string(data), `<span id="charges">`)
	require.True(t, ok, "no result in page")
	value, _, _ := strings.Cut(rest, "</span>")
	return value
}

func prometheusCount(m *monitoring.Metrics, result string) float64 {
	return testutil.ToFloat64(m.PredictionsTotal.WithLabelValues(result))
}
