package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/elimuhub/elimu/core/sponsorship"
)

type sponsorshipApi struct {
	srv *Server
}

func registerSponsorshipAPI(g *echo.Group, jwt echo.MiddlewareFunc, srv *Server) {
	api := sponsorshipApi{srv: srv}

	sg := g.Group("/sponsorships", jwt)

	donor := srv.anyRoleMiddleware(func(c Claims) bool { return c.IsDonor })

	sg.POST("", api.create, donor)
	sg.GET("", api.query)

	dg := sg.Group("/:id")
	dg.GET("", api.retrieve)
	dg.POST("/opt-out", api.requestOptOut, donor)
	dg.POST("/cancel-opt-out", api.cancelOptOut, donor)
	dg.POST("/pause", api.pause, donor)
	dg.POST("/resume", api.resume, donor)
}

// Handlers

func (api *sponsorshipApi) create(ctx echo.Context) error {
	var data sponsorship.NewSponsorship
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewSponsorship")
	}

	// donors may only sponsor under their own ID
	ctxUsr, err := api.srv.getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if !ctxUsr.IsAdmin() {
		data.DonorID = ctxUsr.ID
	}

	if err := data.Validate(api.srv.deps.Validate); err != nil {
		return err
	}

	sp, err := api.srv.deps.SponsorshipSvc.Create(ctx.Request().Context(), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, sp)
}

func (api *sponsorshipApi) query(ctx echo.Context) error {
	filter := new(sponsorship.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []sponsorship.Sponsorship{})
	}
	filter.Clean()

	// scope non-admin donors to their own sponsorships
	ctxUsr, err := api.srv.getContextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if !ctxUsr.IsAdmin() {
		if !ctxUsr.IsDonor() {
			return errHttpForbidden
		}
		filter.DonorID = ctxUsr.ID
	}

	ordering := new(Ordering)
	ordering.Bind(ctx)

	sponsorships, err := api.srv.deps.SponsorshipSvc.Query(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying sponsorships")
	}
	if sponsorships == nil {
		sponsorships = []sponsorship.Sponsorship{}
	}
	return ctx.JSON(http.StatusOK, api.redactHidden(ctx, sponsorships))
}

func (api *sponsorshipApi) retrieve(ctx echo.Context) error {
	sp, err := api.getOwnedSponsorship(ctx)
	if err != nil {
		return err
	}
	redacted := api.redactHidden(ctx, []sponsorship.Sponsorship{sp})
	return ctx.JSON(http.StatusOK, redacted[0])
}

func (api *sponsorshipApi) requestOptOut(ctx echo.Context) error {
	sp, err := api.getOwnedSponsorship(ctx)
	if err != nil {
		return err
	}

	var data sponsorship.OptOutRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to OptOutRequest")
	}
	if err := data.Validate(api.srv.deps.Validate); err != nil {
		return err
	}

	sp, err = api.srv.deps.SponsorshipSvc.RequestOptOut(ctx.Request().Context(), sp.ID, data)
	if err != nil {
		return err
	}
	redacted := api.redactHidden(ctx, []sponsorship.Sponsorship{sp})
	return ctx.JSON(http.StatusOK, redacted[0])
}

func (api *sponsorshipApi) cancelOptOut(ctx echo.Context) error {
	sp, err := api.getOwnedSponsorship(ctx)
	if err != nil {
		return err
	}

	sp, err = api.srv.deps.SponsorshipSvc.CancelOptOut(ctx.Request().Context(), sp.ID)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, sp)
}

func (api *sponsorshipApi) pause(ctx echo.Context) error {
	sp, err := api.getOwnedSponsorship(ctx)
	if err != nil {
		return err
	}

	sp, err = api.srv.deps.SponsorshipSvc.Pause(ctx.Request().Context(), sp.ID)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, sp)
}

func (api *sponsorshipApi) resume(ctx echo.Context) error {
	sp, err := api.getOwnedSponsorship(ctx)
	if err != nil {
		return err
	}

	sp, err = api.srv.deps.SponsorshipSvc.Resume(ctx.Request().Context(), sp.ID)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, sp)
}

// getOwnedSponsorship loads the sponsorship and enforces that non-admin
// callers only touch their own.
func (api *sponsorshipApi) getOwnedSponsorship(ctx echo.Context) (sponsorship.Sponsorship, error) {
	sp, err := api.srv.deps.SponsorshipSvc.GetByID(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return sponsorship.Sponsorship{}, err
	}

	ctxUsr, err := api.srv.getContextUser(ctx)
	if err != nil {
		return sponsorship.Sponsorship{}, errors.Wrap(err, "getting context user")
	}
	if !ctxUsr.IsAdmin() && sp.DonorID != ctxUsr.ID {
		return sponsorship.Sponsorship{}, errHttpNotFound
	}
	return sp, nil
}

// redactHidden blanks the student ID of sponsorships whose student requested
// to be hidden from the donor view; admins keep the full record.
func (api *sponsorshipApi) redactHidden(ctx echo.Context, sponsorships []sponsorship.Sponsorship) []sponsorship.Sponsorship {
	if usr, err := api.srv.getContextUser(ctx); err == nil && usr.IsAdmin() {
		return sponsorships
	}
	for i := range sponsorships {
		if sponsorships[i].StudentHidden {
			sponsorships[i].StudentID = ""
		}
	}
	return sponsorships
}
