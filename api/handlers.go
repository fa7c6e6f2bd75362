package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"prism-kanban/directory"
	"prism-kanban/domain"
	"prism-kanban/kanban"
)

// maxBodySize leaves room for a base64 encoded MaxImageBytes image.
const maxBodySize = 2 << 20

// Directory is the board list the view renders on its dashboard.
type Directory interface {
	List(ctx context.Context) []directory.Board
	Get(ctx context.Context, id string) (directory.Board, error)
	Add(ctx context.Context, title, image string) (directory.Board, []directory.Board, error)
	Update(ctx context.Context, b directory.Board) ([]directory.Board, error)
	Delete(ctx context.Context, id string) ([]directory.Board, error)
}

type boardsResponse struct {
	Board  *directory.Board  `json:"board,omitempty"`
	Boards []directory.Board `json:"boards"`
}

type kanbanResponse struct {
	ID    string       `json:"id,omitempty"`
	Board domain.Board `json:"board"`
}

type handlers struct {
	store  *kanban.Store
	dir    Directory
	logger *log.Logger
}

// Register wires up all routes on the provided Echo instance. Everything
// under /api requires authentication.
func Register(e *echo.Echo, store *kanban.Store, dir Directory, auth Authenticator, logger *log.Logger) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	h := &handlers{store: store, dir: dir, logger: logger}
	broker := newBoardBroker()
	broker.attach(store)

	e.GET("/healthz", healthz)

	g := e.Group("/api", RequestMetrics(logger), RequireAuth(auth, logger))
	g.GET("/boards", h.listBoards)
	g.POST("/boards", h.createBoard)
	g.PUT("/boards/:boardId", h.updateBoard)
	g.DELETE("/boards/:boardId", h.deleteBoard)

	g.GET("/boards/:boardId/kanban", h.getKanban)
	g.GET("/boards/:boardId/stream", streamBoard(store, broker))
	g.POST("/boards/:boardId/columns", h.addColumn)
	g.PATCH("/boards/:boardId/columns/:columnId", h.renameColumn)
	g.DELETE("/boards/:boardId/columns/:columnId", h.deleteColumn)
	g.POST("/boards/:boardId/columns/:columnId/tasks", h.addTask)
	g.PATCH("/boards/:boardId/tasks/:taskId", h.updateTask)
	g.POST("/boards/:boardId/tasks/:taskId/toggle", h.toggleTask)
	g.DELETE("/boards/:boardId/tasks/:taskId", h.deleteTask)
	g.POST("/boards/:boardId/moves", h.moveTask)
}

func healthz(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

func decodeBody(c echo.Context, v any) error {
	dec := sonic.ConfigStd.NewDecoder(io.LimitReader(c.Request().Body, maxBodySize))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func (h *handlers) listBoards(c echo.Context) error {
	return c.JSON(http.StatusOK, boardsResponse{Boards: h.dir.List(c.Request().Context())})
}

func (h *handlers) createBoard(c echo.Context) error {
	ctx := c.Request().Context()
	var form boardForm
	if err := decodeBody(c, &form); err != nil {
		return c.String(http.StatusBadRequest, "invalid body")
	}
	if err := form.normalize(); err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}
	b, boards, err := h.dir.Add(ctx, form.Title, form.Image)
	if err != nil {
		h.logger.WithError(err).Error("add board failed")
		return c.String(http.StatusInternalServerError, "failed to save board")
	}
	h.store.EnsureBoard(ctx, b.ID)
	return c.JSON(http.StatusCreated, boardsResponse{Board: &b, Boards: boards})
}

func (h *handlers) updateBoard(c echo.Context) error {
	var form boardForm
	if err := decodeBody(c, &form); err != nil {
		return c.String(http.StatusBadRequest, "invalid body")
	}
	if err := form.normalize(); err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}
	b := directory.Board{ID: c.Param("boardId"), Title: form.Title, Image: form.Image}
	boards, err := h.dir.Update(c.Request().Context(), b)
	if err != nil {
		return h.directoryError(c, err)
	}
	return c.JSON(http.StatusOK, boardsResponse{Board: &b, Boards: boards})
}

func (h *handlers) deleteBoard(c echo.Context) error {
	boards, err := h.dir.Delete(c.Request().Context(), c.Param("boardId"))
	if err != nil {
		return h.directoryError(c, err)
	}
	return c.JSON(http.StatusOK, boardsResponse{Boards: boards})
}

func (h *handlers) directoryError(c echo.Context, err error) error {
	if errors.Is(err, directory.ErrNotFound) {
		return c.String(http.StatusNotFound, "board not found")
	}
	h.logger.WithError(err).WithField("board", c.Param("boardId")).Error("directory update failed")
	return c.String(http.StatusInternalServerError, "failed to save board")
}

// knownBoard reports whether boardID exists in the store or the directory.
func (h *handlers) knownBoard(ctx context.Context, boardID string) bool {
	if _, ok := h.store.GetBoard(boardID); ok {
		return true
	}
	_, err := h.dir.Get(ctx, boardID)
	return err == nil
}

func (h *handlers) getKanban(c echo.Context) error {
	ctx := c.Request().Context()
	boardID := c.Param("boardId")
	if b, ok := h.store.GetBoard(boardID); ok {
		return c.JSON(http.StatusOK, kanbanResponse{Board: b})
	}
	if !h.knownBoard(ctx, boardID) {
		return c.String(http.StatusNotFound, "board not found")
	}
	return c.JSON(http.StatusOK, kanbanResponse{Board: h.store.EnsureBoard(ctx, boardID)})
}

// respond writes the board after a mutation, or 404 when the mutation did
// not apply because something it referenced is gone.
func (h *handlers) respond(c echo.Context, applied bool, status int, id string) error {
	if !applied {
		return c.String(http.StatusNotFound, "not found")
	}
	b, _ := h.store.GetBoard(c.Param("boardId"))
	return c.JSON(status, kanbanResponse{ID: id, Board: b})
}

func (h *handlers) addColumn(c echo.Context) error {
	ctx := c.Request().Context()
	boardID := c.Param("boardId")
	var form columnForm
	if err := decodeBody(c, &form); err != nil {
		return c.String(http.StatusBadRequest, "invalid body")
	}
	if err := form.normalize(); err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}
	if !h.knownBoard(ctx, boardID) {
		return c.String(http.StatusNotFound, "board not found")
	}
	id := h.store.AddColumn(ctx, boardID, form.Title)
	return h.respond(c, id != "", http.StatusCreated, id)
}

func (h *handlers) renameColumn(c echo.Context) error {
	var form columnForm
	if err := decodeBody(c, &form); err != nil {
		return c.String(http.StatusBadRequest, "invalid body")
	}
	if err := form.normalize(); err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}
	ok := h.store.RenameColumn(c.Request().Context(), c.Param("boardId"), c.Param("columnId"), form.Title)
	return h.respond(c, ok, http.StatusOK, "")
}

func (h *handlers) deleteColumn(c echo.Context) error {
	ok := h.store.DeleteColumn(c.Request().Context(), c.Param("boardId"), c.Param("columnId"))
	return h.respond(c, ok, http.StatusOK, "")
}

func (h *handlers) addTask(c echo.Context) error {
	ctx := c.Request().Context()
	boardID := c.Param("boardId")
	var form taskForm
	if err := decodeBody(c, &form); err != nil {
		return c.String(http.StatusBadRequest, "invalid body")
	}
	if err := form.normalize(true); err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}
	id, ok := h.store.AddTask(ctx, boardID, c.Param("columnId"), *form.Content, form.edits()...)
	return h.respond(c, ok, http.StatusCreated, id)
}

func (h *handlers) updateTask(c echo.Context) error {
	ctx := c.Request().Context()
	boardID, taskID := c.Param("boardId"), c.Param("taskId")
	var form taskForm
	if err := decodeBody(c, &form); err != nil {
		return c.String(http.StatusBadRequest, "invalid body")
	}
	if err := form.normalize(false); err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}
	edits := form.edits()
	if len(edits) == 0 {
		return c.String(http.StatusBadRequest, "nothing to update")
	}
	ok := h.store.UpdateTask(ctx, boardID, taskID, edits...)
	return h.respond(c, ok, http.StatusOK, "")
}

func (h *handlers) toggleTask(c echo.Context) error {
	ok := h.store.ToggleTaskDone(c.Request().Context(), c.Param("boardId"), c.Param("taskId"))
	return h.respond(c, ok, http.StatusOK, "")
}

func (h *handlers) deleteTask(c echo.Context) error {
	ok := h.store.DeleteTask(c.Request().Context(), c.Param("boardId"), c.Param("taskId"))
	return h.respond(c, ok, http.StatusOK, "")
}

func (h *handlers) moveTask(c echo.Context) error {
	var drop dropResult
	if err := decodeBody(c, &drop); err != nil {
		return c.String(http.StatusBadRequest, "invalid body")
	}
	m, ok := drop.move()
	if !ok {
		return c.NoContent(http.StatusNoContent)
	}
	if !h.store.MoveTask(c.Request().Context(), c.Param("boardId"), m) {
		h.logger.WithFields(log.Fields{
			"board": c.Param("boardId"),
			"task":  m.TaskID,
			"user":  userID(c),
		}).Debug("stale move ignored")
		return c.String(http.StatusConflict, "board changed, reload and retry")
	}
	b, _ := h.store.GetBoard(c.Param("boardId"))
	return c.JSON(http.StatusOK, kanbanResponse{Board: b})
}
