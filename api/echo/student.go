package echoapi

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/elimuhub/elimu/core/student"
)

type studentApi struct {
	srv *Server
}

func registerStudentAPI(g *echo.Group, jwt echo.MiddlewareFunc, srv *Server) {
	api := studentApi{srv: srv}

	sg := g.Group("/students", jwt)

	sg.POST("", api.apply)
	sg.GET("", api.query, srv.adminMiddleware())

	dg := sg.Group("/:id")
	dg.GET("", api.retrieve)
	dg.GET("/transactions", api.transactions)
	dg.GET("/ledger-check", api.ledgerCheck, srv.adminMiddleware())
	dg.POST("/approve", api.approve, srv.adminMiddleware())
	dg.POST("/reject", api.reject, srv.adminMiddleware())

	// ledger operations
	dg.POST("/credit", api.credit, srv.adminMiddleware())
	dg.POST("/debit", api.debit, srv.adminMiddleware())
	dg.POST("/invest", api.invest, srv.adminMiddleware())
	dg.POST("/insure", api.insure, srv.adminMiddleware())
	dg.POST("/refund", api.refund, srv.adminMiddleware())
}

// Handlers

// apply registers a new student application; it starts out pending.
func (api *studentApi) apply(ctx echo.Context) error {
	var data student.NewStudent
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewStudent")
	}
	if err := data.Validate(api.srv.deps.Validate); err != nil {
		return err
	}

	st, err := api.srv.deps.StudentSvc.Create(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating student")
	}
	return ctx.JSON(http.StatusCreated, st)
}

func (api *studentApi) query(ctx echo.Context) error {
	filter := new(student.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []student.Student{})
	}
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx)

	students, err := api.srv.deps.StudentSvc.Query(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying students")
	}
	if students == nil {
		students = []student.Student{}
	}
	return ctx.JSON(http.StatusOK, students)
}

func (api *studentApi) retrieve(ctx echo.Context) error {
	st, err := api.srv.deps.StudentSvc.GetByID(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, st)
}

func (api *studentApi) transactions(ctx echo.Context) error {
	txs, err := api.srv.deps.StudentSvc.Transactions(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	if txs == nil {
		txs = []student.Transaction{}
	}
	return ctx.JSON(http.StatusOK, txs)
}

// ledgerCheck replays the ledger and reports whether it reconstructs the
// cached balance.
func (api *studentApi) ledgerCheck(ctx echo.Context) error {
	ok, err := api.srv.deps.StudentSvc.VerifyLedger(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, LedgerCheckResponse{Consistent: ok})
}

func (api *studentApi) approve(ctx echo.Context) error {
	st, err := api.srv.deps.StudentSvc.ApproveApplication(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, st)
}

func (api *studentApi) reject(ctx echo.Context) error {
	st, err := api.srv.deps.StudentSvc.RejectApplication(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, st)
}

func (api *studentApi) credit(ctx echo.Context) error {
	return api.applyEntry(ctx, api.srv.deps.StudentSvc.Credit)
}

func (api *studentApi) debit(ctx echo.Context) error {
	return api.applyEntry(ctx, api.srv.deps.StudentSvc.Debit)
}

func (api *studentApi) invest(ctx echo.Context) error {
	return api.applyEntry(ctx, api.srv.deps.StudentSvc.Invest)
}

func (api *studentApi) insure(ctx echo.Context) error {
	return api.applyEntry(ctx, api.srv.deps.StudentSvc.Insure)
}

func (api *studentApi) refund(ctx echo.Context) error {
	return api.applyEntry(ctx, api.srv.deps.StudentSvc.Refund)
}

type ledgerOp func(ctx context.Context, id string, entry student.LedgerEntry) (student.Student, error)

func (api *studentApi) applyEntry(ctx echo.Context, op ledgerOp) error {
	var data student.LedgerEntry
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to LedgerEntry")
	}
	if err := data.Validate(api.srv.deps.Validate); err != nil {
		return err
	}

	st, err := op(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, st)
}

type LedgerCheckResponse struct {
	Consistent bool `json:"consistent"`
}
