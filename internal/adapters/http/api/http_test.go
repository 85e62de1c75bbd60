package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/okian/maap/internal/adapters/http/api"
	"github.com/okian/maap/internal/adapters/mq/queue"
	"github.com/okian/maap/internal/domain/changes"
	"github.com/okian/maap/internal/domain/fault"
	"github.com/okian/maap/internal/domain/finalize"
	"github.com/okian/maap/internal/domain/model"
	"github.com/okian/maap/internal/domain/snapshot"
	"github.com/okian/maap/internal/domain/types"
	. "github.com/smartystreets/goconvey/convey"
)

// mockDependencies records requests and answers with canned values.
type mockDependencies struct {
	mu sync.Mutex

	created  []snapshot.CreateRequest
	filters  []model.SnapshotFilter
	batches  []types.BatchRequest
	snapshot model.Snapshot
	preview  changes.ChangeRequest
	result   finalize.Result
	report   model.Report
	job      model.JobRecord
	dup      bool
	err      error
}

func (m *mockDependencies) CreateSnapshot(_ context.Context, req snapshot.CreateRequest) (model.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created = append(m.created, req)
	if m.err != nil {
		return model.Snapshot{}, m.err
	}
	return m.snapshot, nil
}

func (m *mockDependencies) GetSnapshot(_ context.Context, id int64) (model.Snapshot, error) {
	if m.err != nil {
		return model.Snapshot{}, m.err
	}
	if id != m.snapshot.ID {
		return model.Snapshot{}, fault.New("mock.GetSnapshot", fault.KindNotFound, "snapshot %d", id)
	}
	return m.snapshot, nil
}

func (m *mockDependencies) ListSnapshots(_ context.Context, filter model.SnapshotFilter) ([]model.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filters = append(m.filters, filter)
	return []model.Snapshot{m.snapshot}, m.err
}

func (m *mockDependencies) PreviewChanges(_ context.Context, _ int64) (changes.ChangeRequest, error) {
	return m.preview, m.err
}

func (m *mockDependencies) Finalize(_ context.Context, _ int64) (finalize.Result, error) {
	return m.result, m.err
}

func (m *mockDependencies) RunBatch(_ context.Context, req types.BatchRequest) (model.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, req)
	return m.report, m.err
}

func (m *mockDependencies) SubmitBatch(_ context.Context, req types.BatchRequest) (model.JobRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, req)
	return m.job, m.dup, m.err
}

func (m *mockDependencies) BatchStatus(_ context.Context, id string) (model.JobRecord, error) {
	if m.err != nil {
		return model.JobRecord{}, m.err
	}
	if id != m.job.ID {
		return model.JobRecord{}, fault.New("mock.BatchStatus", fault.KindNotFound, "job %s", id)
	}
	return m.job, nil
}

type mockStatsProvider struct {
	stats map[string]interface{}
}

func (m *mockStatsProvider) GetStats() map[string]interface{} {
	return m.stats
}

func newMux(deps *mockDependencies) *http.ServeMux {
	mux := http.NewServeMux()
	server := api.NewServer(deps, &mockStatsProvider{stats: map[string]interface{}{"started": true}})
	server.Register(context.Background(), mux)
	return mux
}

func do(mux *http.ServeMux, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, http.NoBody)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func errorCode(w *httptest.ResponseRecorder) string {
	var body struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	So(json.NewDecoder(w.Body).Decode(&body), ShouldBeNil)
	So(body.Message, ShouldNotBeBlank)
	return body.Code
}

func sampleSnapshot() model.Snapshot {
	return model.Snapshot{
		ID:         7,
		EmployeeID: 1,
		ChangeType: model.ChangeCheckInFinalization,
		MaapData: model.MaapData{
			{AssignmentID: 1, AnticipatedEnergyPercentage: 50, OfficialRating: model.RatingWorkingToMeet},
			{AssignmentID: 2, AnticipatedEnergyPercentage: 30},
		},
		FormParams: json.RawMessage(`{ "check_in_1_shared_notes" :"Notes A1" }`),
		CreatedAt:  time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestServer_Register(t *testing.T) {
	Convey("Given a server with all routes registered", t, func() {
		deps := &mockDependencies{snapshot: sampleSnapshot()}
		mux := newMux(deps)

		Convey("When checking health", func() {
			w := do(mux, http.MethodGet, "/healthz", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"ok"`)
		})

		Convey("When scraping metrics", func() {
			w := do(mux, http.MethodGet, "/metrics", "")
			So(w.Code, ShouldEqual, http.StatusOK)
		})

		Convey("When reading stats", func() {
			w := do(mux, http.MethodGet, "/stats", "")
			So(w.Code, ShouldEqual, http.StatusOK)

			var stats map[string]interface{}
			So(json.NewDecoder(w.Body).Decode(&stats), ShouldBeNil)
			So(stats["started"], ShouldEqual, true)
			So(stats, ShouldContainKey, "uptimeSeconds")
			So(stats["changeTypes"], ShouldContainKey, "manual_edit")
		})

		Convey("When using the wrong method", func() {
			w := do(mux, http.MethodGet, "/batches", "")
			So(w.Code, ShouldEqual, http.StatusMethodNotAllowed)
		})
	})
}

func TestSnapshotHandler(t *testing.T) {
	Convey("Given the snapshot routes", t, func() {
		deps := &mockDependencies{snapshot: sampleSnapshot()}
		mux := newMux(deps)

		Convey("When creating a snapshot", func() {
			body := `{"employee_id":1,"created_by_id":2,"change_type":"check_in_finalization","form_params":{ "check_in_1_shared_notes" :"Notes A1" }}`
			w := do(mux, http.MethodPost, "/snapshots", body)

			Convey("Then form params reach the service byte for byte", func() {
				So(w.Code, ShouldEqual, http.StatusCreated)
				So(w.Header().Get("Location"), ShouldEqual, "/snapshots/7")
				So(deps.created, ShouldHaveLength, 1)
				So(string(deps.created[0].FormParams), ShouldEqual, `{ "check_in_1_shared_notes" :"Notes A1" }`)
				So(deps.created[0].ChangeType, ShouldEqual, "check_in_finalization")
			})
		})

		Convey("When the body is not JSON", func() {
			w := do(mux, http.MethodPost, "/snapshots", `{"employee_id":`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(errorCode(w), ShouldEqual, "bad_request")
		})

		Convey("When construction fails", func() {
			deps.err = fault.New("snapshot.Create", fault.KindConstruction, "employee 404 not found")
			w := do(mux, http.MethodPost, "/snapshots", `{"employee_id":404,"change_type":"manual_edit"}`)
			So(w.Code, ShouldEqual, http.StatusUnprocessableEntity)
			So(errorCode(w), ShouldEqual, "construction_error")
		})

		Convey("When the change type is rejected", func() {
			deps.err = fault.New("snapshot.Create", fault.KindValidation, "unknown change type")
			w := do(mux, http.MethodPost, "/snapshots", `{"employee_id":1,"change_type":"nope"}`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(errorCode(w), ShouldEqual, "validation_error")
		})

		Convey("When reading a snapshot", func() {
			w := do(mux, http.MethodGet, "/snapshots/7", "")
			So(w.Code, ShouldEqual, http.StatusOK)

			var got map[string]json.RawMessage
			So(json.NewDecoder(w.Body).Decode(&got), ShouldBeNil)

			Convey("Then both fields are present and separately keyed", func() {
				// Embedded in the resource the params are compacted; /form_params keeps the bytes.
				So(got, ShouldContainKey, "maap_data")
				So(got, ShouldContainKey, "form_params")
				So(string(got["form_params"]), ShouldEqual, `{"check_in_1_shared_notes":"Notes A1"}`)
			})
		})

		Convey("When reading maap data alone", func() {
			w := do(mux, http.MethodGet, "/snapshots/7/maap_data", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldEqual,
				`[{"assignment_id":1,"anticipated_energy_percentage":50,"official_rating":"working_to_meet"},`+
					`{"assignment_id":2,"anticipated_energy_percentage":30,"official_rating":null}]`)
		})

		Convey("When reading form params alone", func() {
			w := do(mux, http.MethodGet, "/snapshots/7/form_params", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldEqual, `{ "check_in_1_shared_notes" :"Notes A1" }`)
		})

		Convey("When the id is malformed or unknown", func() {
			So(do(mux, http.MethodGet, "/snapshots/abc", "").Code, ShouldEqual, http.StatusBadRequest)
			So(do(mux, http.MethodGet, "/snapshots/0/maap_data", "").Code, ShouldEqual, http.StatusBadRequest)

			w := do(mux, http.MethodGet, "/snapshots/8", "")
			So(w.Code, ShouldEqual, http.StatusNotFound)
			So(errorCode(w), ShouldEqual, "not_found")
		})

		Convey("When listing with filters", func() {
			w := do(mux, http.MethodGet, "/snapshots?employee_id=1&processed=false&limit=5", "")
			So(w.Code, ShouldEqual, http.StatusOK)

			var list types.SnapshotList
			So(json.NewDecoder(w.Body).Decode(&list), ShouldBeNil)
			So(list.Count, ShouldEqual, 1)
			So(deps.filters, ShouldHaveLength, 1)
			So(deps.filters[0].EmployeeID, ShouldEqual, 1)
			So(*deps.filters[0].Processed, ShouldBeFalse)
			So(deps.filters[0].Limit, ShouldEqual, 5)
		})

		Convey("When listing with bad filters", func() {
			So(do(mux, http.MethodGet, "/snapshots?employee_id=x", "").Code, ShouldEqual, http.StatusBadRequest)
			So(do(mux, http.MethodGet, "/snapshots?processed=maybe", "").Code, ShouldEqual, http.StatusBadRequest)

			w := do(mux, http.MethodGet, "/snapshots?limit=10000", "")
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(errorCode(w), ShouldEqual, "limit_exceeded")
		})

		Convey("When previewing changes", func() {
			deps.preview = changes.ChangeRequest{EmployeeID: 1, CheckIns: []changes.CheckInChange{{
				AssignmentID:      1,
				SharedNotes:       "Notes A1",
				SharedNotesSource: changes.Proposed,
			}}}
			w := do(mux, http.MethodGet, "/snapshots/7/changes", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"shared_notes_source":"proposed"`)
		})

		Convey("When finalizing", func() {
			deps.result = finalize.Result{SnapshotID: 7, EmployeeID: 1}
			w := do(mux, http.MethodPost, "/snapshots/7/finalize", "")
			So(w.Code, ShouldEqual, http.StatusOK)

			Convey("Then a second finalization conflicts", func() {
				deps.err = fault.New("finalize.Process", fault.KindAlreadyProcessed, "snapshot 7")
				w := do(mux, http.MethodPost, "/snapshots/7/finalize", "")
				So(w.Code, ShouldEqual, http.StatusConflict)
				So(errorCode(w), ShouldEqual, "already_processed")
			})
		})

		Convey("When finalization cannot label an attribute", func() {
			deps.err = fault.New("finalize.Process", fault.KindAttributeResolution, "ability 2 has no title")
			w := do(mux, http.MethodPost, "/snapshots/7/finalize", "")
			So(w.Code, ShouldEqual, http.StatusUnprocessableEntity)
			So(errorCode(w), ShouldEqual, "attribute_resolution_error")
		})
	})
}

func TestBatchHandler(t *testing.T) {
	Convey("Given the batch routes", t, func() {
		deps := &mockDependencies{
			report: model.Report{ID: "r-1", Succeeded: 2},
			job:    model.JobRecord{ID: "job-1", Status: model.JobQueued, Size: 2},
		}
		mux := newMux(deps)

		Convey("When running a batch synchronously", func() {
			w := do(mux, http.MethodPost, "/batches", `{"snapshot_ids":[1,2]}`)
			So(w.Code, ShouldEqual, http.StatusOK)

			var report model.Report
			So(json.NewDecoder(w.Body).Decode(&report), ShouldBeNil)
			So(report.ID, ShouldEqual, "r-1")
			So(deps.batches[0].SnapshotIDs, ShouldResemble, []int64{1, 2})
		})

		Convey("When submitting asynchronously", func() {
			req := httptest.NewRequest(http.MethodPost, "/batches", strings.NewReader(`{"async":true,"snapshot_ids":[1,2]}`))
			req.Header.Set("Idempotency-Key", "abc")
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)

			Convey("Then the job is accepted", func() {
				So(w.Code, ShouldEqual, http.StatusAccepted)
				So(w.Header().Get("Location"), ShouldEqual, "/batches/job-1")
				So(deps.batches[0].RequestID, ShouldEqual, "abc")

				var accepted types.BatchAccepted
				So(json.NewDecoder(w.Body).Decode(&accepted), ShouldBeNil)
				So(accepted.Job.ID, ShouldEqual, "job-1")
				So(accepted.Duplicate, ShouldBeFalse)
			})
		})

		Convey("When resubmitting a known request", func() {
			deps.dup = true
			w := do(mux, http.MethodPost, "/batches", `{"async":true,"request_id":"abc","snapshot_ids":[1]}`)
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"duplicate":true`)
		})

		Convey("When the queue is full", func() {
			deps.err = queue.ErrQueueFull
			w := do(mux, http.MethodPost, "/batches", `{"async":true,"snapshot_ids":[1]}`)
			So(w.Code, ShouldEqual, http.StatusTooManyRequests)
			So(errorCode(w), ShouldEqual, "backpressure")
		})

		Convey("When the request names nothing or both kinds", func() {
			So(do(mux, http.MethodPost, "/batches", `{}`).Code, ShouldEqual, http.StatusBadRequest)
			w := do(mux, http.MethodPost, "/batches", `{"snapshot_ids":[1],"employees":{"employees":[{"employee_id":2}]}}`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(deps.batches, ShouldBeEmpty)
		})

		Convey("When polling a job", func() {
			w := do(mux, http.MethodGet, "/batches/job-1", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"status":"queued"`)

			w = do(mux, http.MethodGet, "/batches/job-2", "")
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("When an unexpected error occurs", func() {
			deps.err = context.DeadlineExceeded
			w := do(mux, http.MethodPost, "/batches", `{"snapshot_ids":[1]}`)
			So(w.Code, ShouldEqual, http.StatusInternalServerError)
			So(errorCode(w), ShouldEqual, "canceled")
		})
	})
}
