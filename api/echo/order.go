package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/elimuhub/elimu/core/order"
)

type orderApi struct {
	srv *Server
}

func registerOrderAPI(g *echo.Group, jwt echo.MiddlewareFunc, srv *Server) {
	api := orderApi{srv: srv}

	og := g.Group("/purchase-orders", jwt)

	vendor := srv.anyRoleMiddleware(func(c Claims) bool { return c.IsVendor })

	og.POST("", api.create)
	og.GET("", api.query)

	dg := og.Group("/:id")
	dg.GET("", api.retrieve)
	dg.POST("/approve", api.approve, srv.adminMiddleware())
	dg.POST("/reject", api.reject, srv.adminMiddleware())
	dg.POST("/fulfill", api.fulfill, vendor)
	dg.POST("/cancel", api.cancel)
}

// Handlers

func (api *orderApi) create(ctx echo.Context) error {
	var data order.NewOrder
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewOrder")
	}

	// students may only order for themselves
	ctxUsr, err := api.srv.getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if !ctxUsr.IsAdmin() && ctxUsr.IsStudent() {
		st, err := api.srv.deps.StudentSvc.GetByUserID(ctx.Request().Context(), ctxUsr.ID)
		if err != nil {
			return err
		}
		data.StudentID = st.ID
	}

	if err := data.Validate(api.srv.deps.Validate); err != nil {
		return err
	}

	ord, err := api.srv.deps.OrderSvc.Create(ctx.Request().Context(), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, ord)
}

func (api *orderApi) query(ctx echo.Context) error {
	filter := new(order.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []order.Order{})
	}
	filter.Clean()

	// scope non-admins to their own orders
	ctxUsr, err := api.srv.getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	switch {
	case ctxUsr.IsAdmin():
	case ctxUsr.IsVendor():
		filter.VendorID = ctxUsr.ID
	case ctxUsr.IsStudent():
		st, err := api.srv.deps.StudentSvc.GetByUserID(ctx.Request().Context(), ctxUsr.ID)
		if err != nil {
			return err
		}
		filter.StudentID = st.ID
	default:
		return errHttpForbidden
	}

	ordering := new(Ordering)
	ordering.Bind(ctx)

	orders, err := api.srv.deps.OrderSvc.Query(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying orders")
	}
	if orders == nil {
		orders = []order.Order{}
	}
	return ctx.JSON(http.StatusOK, orders)
}

func (api *orderApi) retrieve(ctx echo.Context) error {
	ord, err := api.srv.deps.OrderSvc.GetByID(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, ord)
}

func (api *orderApi) approve(ctx echo.Context) error {
	ctxUsr, err := api.srv.getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	ord, err := api.srv.deps.OrderSvc.Approve(ctx.Request().Context(), ctx.Param("id"), ctxUsr.ID)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, ord)
}

func (api *orderApi) reject(ctx echo.Context) error {
	var data order.RejectOrder
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to RejectOrder")
	}
	if err := data.Validate(api.srv.deps.Validate); err != nil {
		return err
	}

	ord, err := api.srv.deps.OrderSvc.Reject(ctx.Request().Context(), ctx.Param("id"), data.Reason)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, ord)
}

func (api *orderApi) fulfill(ctx echo.Context) error {
	ord, err := api.srv.deps.OrderSvc.GetByID(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}

	// vendors may only fulfill their own orders
	ctxUsr, err := api.srv.getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if !ctxUsr.IsAdmin() && ord.VendorID != ctxUsr.ID {
		return errHttpForbidden
	}

	ord, err = api.srv.deps.OrderSvc.Fulfill(ctx.Request().Context(), ord.ID)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, ord)
}

func (api *orderApi) cancel(ctx echo.Context) error {
	ord, err := api.srv.deps.OrderSvc.GetByID(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}

	// students may only cancel their own orders
	ctxUsr, err := api.srv.getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if !ctxUsr.IsAdmin() {
		st, err := api.srv.deps.StudentSvc.GetByUserID(ctx.Request().Context(), ctxUsr.ID)
		if err != nil || st.ID != ord.StudentID {
			return errHttpForbidden
		}
	}

	ord, err = api.srv.deps.OrderSvc.Cancel(ctx.Request().Context(), ord.ID)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, ord)
}
