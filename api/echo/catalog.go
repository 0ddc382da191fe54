package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/elimuhub/elimu/core/catalog"
)

type catalogApi struct {
	srv *Server
}

func registerCatalogAPI(g *echo.Group, jwt echo.MiddlewareFunc, srv *Server) {
	api := catalogApi{srv: srv}

	cg := g.Group("/catalog-items", jwt)

	vendor := srv.anyRoleMiddleware(func(c Claims) bool { return c.IsVendor })

	cg.GET("", api.query)
	cg.POST("", api.create, vendor)

	dg := cg.Group("/:id")
	dg.GET("", api.retrieve)
	dg.PUT("", api.update, vendor)
	dg.DELETE("", api.deactivate, vendor)
}

// Handlers

func (api *catalogApi) create(ctx echo.Context) error {
	var data catalog.NewItem
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewItem")
	}

	// vendors may only list under their own ID
	ctxUsr, err := api.srv.getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if !ctxUsr.IsAdmin() {
		data.VendorID = ctxUsr.ID
	}

	if err := data.Validate(api.srv.deps.Validate); err != nil {
		return err
	}

	it, err := api.srv.deps.CatalogSvc.Create(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating catalog item")
	}
	return ctx.JSON(http.StatusCreated, it)
}

func (api *catalogApi) query(ctx echo.Context) error {
	filter := new(catalog.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []catalog.Item{})
	}
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx)

	items, err := api.srv.deps.CatalogSvc.Query(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying catalog items")
	}
	if items == nil {
		items = []catalog.Item{}
	}
	return ctx.JSON(http.StatusOK, items)
}

func (api *catalogApi) retrieve(ctx echo.Context) error {
	it, err := api.srv.deps.CatalogSvc.GetByID(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, it)
}

func (api *catalogApi) update(ctx echo.Context) error {
	it, err := api.getOwnedItem(ctx)
	if err != nil {
		return err
	}

	var data catalog.UpdateItem
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateItem")
	}
	if err := data.Validate(it, api.srv.deps.Validate); err != nil {
		return err
	}

	it, err = api.srv.deps.CatalogSvc.Update(ctx.Request().Context(), it.ID, data)
	if err != nil {
		return errors.Wrap(err, "updating catalog item")
	}
	return ctx.JSON(http.StatusOK, it)
}

func (api *catalogApi) deactivate(ctx echo.Context) error {
	it, err := api.getOwnedItem(ctx)
	if err != nil {
		return err
	}

	it, err = api.srv.deps.CatalogSvc.Deactivate(ctx.Request().Context(), it.ID)
	if err != nil {
		return errors.Wrap(err, "deactivating catalog item")
	}
	return ctx.JSON(http.StatusOK, it)
}

// getOwnedItem loads the item and enforces that non-admin callers only touch
// their own listings.
func (api *catalogApi) getOwnedItem(ctx echo.Context) (catalog.Item, error) {
	it, err := api.srv.deps.CatalogSvc.GetByID(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return catalog.Item{}, err
	}

	ctxUsr, err := api.srv.getContextUser(ctx)
	if err != nil {
		return catalog.Item{}, errors.Wrap(err, "getting context user")
	}
	if !ctxUsr.IsAdmin() && it.VendorID != ctxUsr.ID {
		return catalog.Item{}, errHttpForbidden
	}
	return it, nil
}
