package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus/hooks/test"

	"prism-kanban/directory"
	"prism-kanban/kanban"
	"prism-kanban/storage"
)

type mockAuth struct{}

func (mockAuth) UserIDFromAuthHeader(h string) (string, error) {
	if h == "" {
		return "", errMissingAuthorization
	}
	return "user", nil
}

type testServer struct {
	e     *echo.Echo
	store *kanban.Store
	dir   *directory.Directory
}

func mustCipher(t *testing.T, secret string) *storage.Cipher {
	t.Helper()
	c, err := storage.NewCipher(secret)
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	return c
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger, _ := test.NewNullLogger()
	store := kanban.New(storage.NewAdapter(storage.NewMemoryBackend()), kanban.WithLogger(logger))
	store.Load(context.Background())
	dir := directory.New(storage.NewAdapter(storage.NewMemoryBackend(), storage.WithCodec(mustCipher(t, ""))), directory.WithLogger(logger))

	e := echo.New()
	Register(e, store, dir, mockAuth{}, logger)
	return &testServer{e: e, store: store, dir: dir}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	req.Header.Set(echo.HeaderAuthorization, "Bearer a.b.c")
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := sonic.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("invalid json %q: %v", rec.Body.String(), err)
	}
	return v
}

func (s *testServer) createBoard(t *testing.T, title string) string {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/boards", `{"title":"`+title+`"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create board: %d %s", rec.Code, rec.Body.String())
	}
	return decode[boardsResponse](t, rec).Board.ID
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
}

func TestBoardDirectoryRoutes(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/boards", `{"title":"  Roadmap  "}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", rec.Code, rec.Body.String())
	}
	created := decode[boardsResponse](t, rec)
	if created.Board == nil || created.Board.Title != "Roadmap" || len(created.Boards) != 1 {
		t.Fatalf("unexpected create response %#v", created)
	}
	id := created.Board.ID
	if _, ok := s.store.GetBoard(id); !ok {
		t.Fatalf("expected kanban board to be registered for %s", id)
	}

	rec = s.do(t, http.MethodPut, "/api/boards/"+id, `{"title":"Plans"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update: %d %s", rec.Code, rec.Body.String())
	}
	if got := decode[boardsResponse](t, rec).Boards[0].Title; got != "Plans" {
		t.Fatalf("expected renamed board, got %q", got)
	}

	rec = s.do(t, http.MethodGet, "/api/boards", "")
	if rec.Code != http.StatusOK || len(decode[boardsResponse](t, rec).Boards) != 1 {
		t.Fatalf("list: %d %s", rec.Code, rec.Body.String())
	}

	if rec = s.do(t, http.MethodPut, "/api/boards/board-missing", `{"title":"x"}`); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown board, got %d", rec.Code)
	}

	rec = s.do(t, http.MethodDelete, "/api/boards/"+id, "")
	if rec.Code != http.StatusOK || len(decode[boardsResponse](t, rec).Boards) != 0 {
		t.Fatalf("delete: %d %s", rec.Code, rec.Body.String())
	}
	if rec = s.do(t, http.MethodDelete, "/api/boards/"+id, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", rec.Code)
	}
}

func TestBoardFormValidation(t *testing.T) {
	s := newTestServer(t)
	cases := map[string]string{
		"blank title":    `{"title":"   "}`,
		"unknown field":  `{"title":"x","owner":"me"}`,
		"bad image":      `{"title":"x","image":"http://example.com/a.png"}`,
		"gif image":      `{"title":"x","image":"data:image/gif;base64,R0lGOD=="}`,
		"malformed json": `{"title":`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if rec := s.do(t, http.MethodPost, "/api/boards", body); rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400 got %d: %s", rec.Code, rec.Body.String())
			}
		})
	}
	if len(s.dir.List(context.Background())) != 0 {
		t.Fatalf("rejected forms were saved")
	}
}

func TestKanbanRoutesEndToEnd(t *testing.T) {
	s := newTestServer(t)
	boardID := s.createBoard(t, "Roadmap")
	base := "/api/boards/" + boardID

	rec := s.do(t, http.MethodPost, base+"/columns", `{"title":" Todo "}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("add column: %d %s", rec.Code, rec.Body.String())
	}
	todo := decode[kanbanResponse](t, rec)
	if todo.Board.Columns[todo.ID].Title != "Todo" {
		t.Fatalf("expected trimmed title, got %#v", todo.Board.Columns[todo.ID])
	}
	done := decode[kanbanResponse](t, s.do(t, http.MethodPost, base+"/columns", `{"title":"Done"}`)).ID

	rec = s.do(t, http.MethodPost, base+"/columns/"+todo.ID+"/tasks", `{"content":"Write plan","labelColor":"bg-pink-500"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("add task: %d %s", rec.Code, rec.Body.String())
	}
	task := decode[kanbanResponse](t, rec)
	if got := task.Board.Tasks[task.ID]; got.Content != "Write plan" || got.LabelColor != "bg-pink-500" {
		t.Fatalf("unexpected task %#v", got)
	}

	move := `{"draggableId":"` + task.ID + `","source":{"droppableId":"` + todo.ID + `","index":0},"destination":{"droppableId":"` + done + `","index":0}}`
	rec = s.do(t, http.MethodPost, base+"/moves", move)
	if rec.Code != http.StatusOK {
		t.Fatalf("move: %d %s", rec.Code, rec.Body.String())
	}
	moved := decode[kanbanResponse](t, rec).Board
	if len(moved.Columns[todo.ID].TaskIDs) != 0 || len(moved.Columns[done].TaskIDs) != 1 {
		t.Fatalf("unexpected columns after move %#v", moved.Columns)
	}
	if rec = s.do(t, http.MethodPost, base+"/moves", move); rec.Code != http.StatusConflict {
		t.Fatalf("expected replayed move to conflict, got %d", rec.Code)
	}

	rec = s.do(t, http.MethodPost, base+"/tasks/"+task.ID+"/toggle", "")
	if rec.Code != http.StatusOK || !decode[kanbanResponse](t, rec).Board.Tasks[task.ID].Done {
		t.Fatalf("toggle: %d %s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodPatch, base+"/tasks/"+task.ID, `{"content":"Ship it"}`)
	if rec.Code != http.StatusOK || decode[kanbanResponse](t, rec).Board.Tasks[task.ID].Content != "Ship it" {
		t.Fatalf("update task: %d %s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodPatch, base+"/columns/"+done, `{"title":"Shipped"}`)
	if rec.Code != http.StatusOK || decode[kanbanResponse](t, rec).Board.Columns[done].Title != "Shipped" {
		t.Fatalf("rename column: %d %s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodDelete, base+"/columns/"+done, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete column: %d", rec.Code)
	}
	after := decode[kanbanResponse](t, rec).Board
	if _, ok := after.Tasks[task.ID]; ok || len(after.ColumnOrder) != 1 {
		t.Fatalf("expected cascade delete, got %#v", after)
	}

	rec = s.do(t, http.MethodGet, base+"/kanban", "")
	if rec.Code != http.StatusOK || len(decode[kanbanResponse](t, rec).Board.ColumnOrder) != 1 {
		t.Fatalf("get kanban: %d %s", rec.Code, rec.Body.String())
	}
}

func TestCancelledDropIsIgnored(t *testing.T) {
	s := newTestServer(t)
	boardID := s.createBoard(t, "Roadmap")
	version := s.store.Version()

	body := `{"draggableId":"task-1","source":{"droppableId":"column-1","index":0},"destination":null}`
	rec := s.do(t, http.MethodPost, "/api/boards/"+boardID+"/moves", body)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 got %d", rec.Code)
	}
	if s.store.Version() != version {
		t.Fatalf("cancelled drop changed the store")
	}
}

func TestTaskFormIsOneStoreMutation(t *testing.T) {
	s := newTestServer(t)
	boardID := s.createBoard(t, "Roadmap")
	base := "/api/boards/" + boardID
	col := decode[kanbanResponse](t, s.do(t, http.MethodPost, base+"/columns", `{"title":"Todo"}`)).ID

	var ops []string
	unsubscribe := s.store.Subscribe(func(st kanban.State) { ops = append(ops, st.Op) })
	defer unsubscribe()

	rec := s.do(t, http.MethodPost, base+"/columns/"+col+"/tasks", `{"content":"x","labelColor":"bg-pink-500"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("add task: %d %s", rec.Code, rec.Body.String())
	}
	created := decode[kanbanResponse](t, rec)
	if created.Board.Tasks[created.ID].LabelColor != "bg-pink-500" {
		t.Fatalf("unexpected task %#v", created.Board.Tasks[created.ID])
	}
	if len(ops) != 1 || ops[0] != kanban.OpAddTask {
		t.Fatalf("expected one add-task notification, got %v", ops)
	}

	ops = nil
	rec = s.do(t, http.MethodPatch, base+"/tasks/"+created.ID, `{"content":"y","labelColor":"bg-red-500"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update task: %d %s", rec.Code, rec.Body.String())
	}
	got := decode[kanbanResponse](t, rec).Board.Tasks[created.ID]
	if got.Content != "y" || got.LabelColor != "bg-red-500" {
		t.Fatalf("unexpected task %#v", got)
	}
	if len(ops) != 1 || ops[0] != kanban.OpUpdateTask {
		t.Fatalf("expected one update-task notification, got %v", ops)
	}

	ops = nil
	if rec = s.do(t, http.MethodPatch, base+"/tasks/missing", `{"content":"z","labelColor":"bg-red-500"}`); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown task, got %d", rec.Code)
	}
	if len(ops) != 0 {
		t.Fatalf("unknown task notified subscribers: %v", ops)
	}
}

func TestDropOntoOwnSlotIsIgnored(t *testing.T) {
	s := newTestServer(t)
	boardID := s.createBoard(t, "Roadmap")
	base := "/api/boards/" + boardID
	col := decode[kanbanResponse](t, s.do(t, http.MethodPost, base+"/columns", `{"title":"Todo"}`)).ID
	task := decode[kanbanResponse](t, s.do(t, http.MethodPost, base+"/columns/"+col+"/tasks", `{"content":"x"}`)).ID
	version := s.store.Version()

	body := `{"draggableId":"` + task + `","source":{"droppableId":"` + col + `","index":0},"destination":{"droppableId":"` + col + `","index":0}}`
	rec := s.do(t, http.MethodPost, base+"/moves", body)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 got %d", rec.Code)
	}
	if s.store.Version() != version {
		t.Fatalf("drop onto own slot changed the store")
	}
}

func TestKanbanRoutesRejectBadInput(t *testing.T) {
	s := newTestServer(t)
	boardID := s.createBoard(t, "Roadmap")
	base := "/api/boards/" + boardID
	col := decode[kanbanResponse](t, s.do(t, http.MethodPost, base+"/columns", `{"title":"Todo"}`)).ID
	taskID := decode[kanbanResponse](t, s.do(t, http.MethodPost, base+"/columns/"+col+"/tasks", `{"content":"x"}`)).ID

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"blank column title", http.MethodPost, base + "/columns", `{"title":" "}`, http.StatusBadRequest},
		{"unknown board", http.MethodPost, "/api/boards/board-nope/columns", `{"title":"x"}`, http.StatusNotFound},
		{"unknown board kanban", http.MethodGet, "/api/boards/board-nope/kanban", "", http.StatusNotFound},
		{"rename unknown column", http.MethodPatch, base + "/columns/column-nope", `{"title":"x"}`, http.StatusNotFound},
		{"task in unknown column", http.MethodPost, base + "/columns/column-nope/tasks", `{"content":"x"}`, http.StatusNotFound},
		{"blank task content", http.MethodPost, base + "/columns/" + col + "/tasks", `{"content":"  "}`, http.StatusBadRequest},
		{"bad label color", http.MethodPatch, base + "/tasks/" + taskID, `{"labelColor":"bg-black"}`, http.StatusBadRequest},
		{"empty task patch", http.MethodPatch, base + "/tasks/" + taskID, `{}`, http.StatusBadRequest},
		{"toggle unknown task", http.MethodPost, base + "/tasks/task-nope/toggle", "", http.StatusNotFound},
		{"delete unknown task", http.MethodDelete, base + "/tasks/task-nope", "", http.StatusNotFound},
		{"stale move", http.MethodPost, base + "/moves", `{"draggableId":"task-nope","source":{"droppableId":"` + col + `","index":0},"destination":{"droppableId":"` + col + `","index":0}}`, http.StatusConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if rec := s.do(t, tc.method, tc.path, tc.body); rec.Code != tc.want {
				t.Fatalf("expected %d got %d: %s", tc.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestUnauthenticatedRequests(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/boards", nil)
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/boards", nil)
	req.Header.Set(echo.HeaderAccept, "text/html,application/xhtml+xml")
	rec = httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	if rec.Code != http.StatusFound || rec.Header().Get(echo.HeaderLocation) != SignInPath {
		t.Fatalf("expected redirect to sign-in, got %d %q", rec.Code, rec.Header().Get(echo.HeaderLocation))
	}
}

type failingDirectory struct{ *directory.Directory }

func (failingDirectory) Add(context.Context, string, string) (directory.Board, []directory.Board, error) {
	return directory.Board{}, nil, errors.New("storage down")
}

func TestCreateBoardStorageFailure(t *testing.T) {
	logger, hook := test.NewNullLogger()
	store := kanban.New(storage.NewAdapter(storage.NewMemoryBackend()), kanban.WithLogger(logger))
	dir := failingDirectory{directory.New(storage.NewAdapter(storage.NewMemoryBackend()))}
	e := echo.New()
	Register(e, store, dir, mockAuth{}, logger)

	req := httptest.NewRequest(http.MethodPost, "/api/boards", strings.NewReader(`{"title":"x"}`))
	req.Header.Set(echo.HeaderAuthorization, "Bearer a.b.c")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", rec.Code)
	}
	found := false
	for _, entry := range hook.AllEntries() {
		if entry.Message == "add board failed" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected failure to be logged")
	}
	if len(store.Boards()) != 0 {
		t.Fatalf("kanban board registered for a board that was not saved")
	}
}
