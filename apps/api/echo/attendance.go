package echoapi

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/attendance"
	"github.com/trezcool/mahudhurio/ws"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // cross-origin clients carry their own JWT
}

type attendanceApi struct {
	conf     *core.Config
	svc      *attendance.Service
	hub      *ws.Hub
	protocol *ws.Protocol
	logger   core.Logger
}

func registerAttendanceAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps ServerDeps) {
	api := attendanceApi{
		conf:     deps.Conf,
		svc:      deps.AttendanceSvc,
		hub:      deps.Hub,
		protocol: deps.Protocol,
		logger:   deps.Logger,
	}

	g.GET("/classes/:id/attendance", api.roster, jwt, teacherMiddleware())
	g.GET("/ws", api.live, middleware.JWTWithConfig(newQueryJWTConfig(deps.Conf)))
}

// Handlers

// roster returns the class' active attendance record with everyone marked
// present so far.
func (api *attendanceApi) roster(ctx echo.Context) error {
	rec, err := api.svc.ActiveRecord(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		if errors.Cause(err) == attendance.ErrRecordNotFound {
			return errHttpNotFound
		}
		return errors.Wrap(err, "getting active attendance record")
	}
	return ctx.JSON(http.StatusOK, rec)
}

// live upgrades the request to a websocket connection and pumps it until it
// drops. The JWT is read from the `token` query param on upgrade.
func (api *attendanceApi) live(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	conn, err := upgrader.Upgrade(ctx.Response(), ctx.Request(), nil)
	if err != nil {
		return errors.Wrap(err, "upgrading connection")
	}

	client := ws.NewClient(api.hub, conn, ws.Identity{
		ID:        claims.Subject,
		Name:      claims.Name,
		Email:     claims.Email,
		IsTeacher: claims.IsTeacher || claims.IsAdmin,
		IsStudent: claims.IsStudent,
	}, api.logger)

	client.Run(api.protocol)
	return nil
}
