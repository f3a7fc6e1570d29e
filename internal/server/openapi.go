package server

import (
	"encoding/json"
	"net/http"

	openapi "github.com/swaggest/openapi-go"
	"github.com/swaggest/openapi-go/openapi3"

	"github.com/playperu/turtlesoup/internal/handler/health"
	"github.com/playperu/turtlesoup/internal/realtime"
	"github.com/playperu/turtlesoup/internal/service"
	"github.com/playperu/turtlesoup/internal/sweeper"
	"github.com/playperu/turtlesoup/internal/turtlesoup"
)

// ErrorResponse is returned for all error responses.
type ErrorResponse struct {
	Error string `json:"error"`
}

type roomPath struct {
	RoomID string `path:"roomID"`
}

type listMessagesQuery struct {
	RoomID string `path:"roomID"`
	Limit  int    `query:"limit" description:"Maximum number of messages, default 100, at most 1000."`
}

type statusRequest struct {
	RoomID string                `path:"roomID"`
	Status turtlesoup.RoomStatus `json:"status" enum:"waiting,active,solved,ended"`
}

type sendMessageRequest struct {
	RoomID string `path:"roomID"`
	service.NewMessage
}

type invitePath struct {
	Code string `path:"code"`
}

type imagePath struct {
	Name string `path:"name"`
}

type uploadForm struct {
	File string `formData:"file" format:"binary" required:"true"`
}

func newOpenAPISpec() *openapi3.Spec {
	r := openapi3.NewReflector()
	r.Spec.Info.Title = "Turtle Soup API"
	r.Spec.Info.Version = "0.1.0"
	r.Spec.Info.WithDescription("Backend API for Turtle Soup puzzle rooms. Player routes require a Bearer token from POST /api/auth/anonymous.")

	// GET /healthz
	getHealthz, _ := r.NewOperationContext(http.MethodGet, "/healthz")
	getHealthz.SetSummary("Health check")
	getHealthz.SetDescription("Returns the health status of backend dependencies.")
	getHealthz.AddRespStructure(map[string]health.Result{}, openapi.WithHTTPStatus(http.StatusOK))
	getHealthz.AddRespStructure(map[string]health.Result{}, openapi.WithHTTPStatus(http.StatusServiceUnavailable))
	_ = r.AddOperation(getHealthz)

	// POST /api/auth/anonymous
	postLogin, _ := r.NewOperationContext(http.MethodPost, "/api/auth/anonymous")
	postLogin.SetSummary("Anonymous login")
	postLogin.SetDescription("Creates an anonymous identity and returns its bearer token. The nickname is optional.")
	postLogin.AddReqStructure(AnonymousLoginRequest{})
	postLogin.AddRespStructure(AnonymousLoginResponse{}, openapi.WithHTTPStatus(http.StatusCreated))
	postLogin.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	_ = r.AddOperation(postLogin)

	// GET /api/auth/me
	getMe, _ := r.NewOperationContext(http.MethodGet, "/api/auth/me")
	getMe.SetSummary("Current user")
	getMe.AddRespStructure(turtlesoup.User{}, openapi.WithHTTPStatus(http.StatusOK))
	getMe.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusUnauthorized))
	_ = r.AddOperation(getMe)

	// POST /api/rooms
	createRoom, _ := r.NewOperationContext(http.MethodPost, "/api/rooms")
	createRoom.SetSummary("Create room")
	createRoom.SetDescription("Opens a waiting room hosted by the caller. Title and solution are each either text or an image URL.")
	createRoom.AddReqStructure(CreateRoomRequest{})
	createRoom.AddRespStructure(turtlesoup.Room{}, openapi.WithHTTPStatus(http.StatusCreated))
	createRoom.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	createRoom.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusUnauthorized))
	_ = r.AddOperation(createRoom)

	// GET /api/rooms/{roomID}
	getRoom, _ := r.NewOperationContext(http.MethodGet, "/api/rooms/{roomID}")
	getRoom.SetSummary("Get room")
	getRoom.SetDescription("Returns an active room. The solution is hidden from players until the room is solved.")
	getRoom.AddReqStructure(roomPath{})
	getRoom.AddRespStructure(turtlesoup.Room{}, openapi.WithHTTPStatus(http.StatusOK))
	getRoom.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	_ = r.AddOperation(getRoom)

	// PUT /api/rooms/{roomID}/status
	putStatus, _ := r.NewOperationContext(http.MethodPut, "/api/rooms/{roomID}/status")
	putStatus.SetSummary("Advance room status")
	putStatus.SetDescription("Host only. Moves the room one step along waiting, active, solved, ended.")
	putStatus.AddReqStructure(statusRequest{})
	putStatus.AddRespStructure(turtlesoup.Room{}, openapi.WithHTTPStatus(http.StatusOK))
	putStatus.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	putStatus.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusForbidden))
	putStatus.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusConflict))
	_ = r.AddOperation(putStatus)

	// POST /api/rooms/{roomID}/end
	postEnd, _ := r.NewOperationContext(http.MethodPost, "/api/rooms/{roomID}/end")
	postEnd.SetSummary("End room")
	postEnd.SetDescription("Host only. Ends a solved room and deletes it with its participants, messages and images.")
	postEnd.AddReqStructure(roomPath{})
	postEnd.AddRespStructure(nil, openapi.WithHTTPStatus(http.StatusNoContent))
	postEnd.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusForbidden))
	postEnd.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusConflict))
	_ = r.AddOperation(postEnd)

	// GET /api/rooms/{roomID}/invite
	getInvite, _ := r.NewOperationContext(http.MethodGet, "/api/rooms/{roomID}/invite")
	getInvite.SetSummary("Invite code")
	getInvite.AddReqStructure(roomPath{})
	getInvite.AddRespStructure(InviteResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	getInvite.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	_ = r.AddOperation(getInvite)

	// GET /api/invites/{code}
	resolveInvite, _ := r.NewOperationContext(http.MethodGet, "/api/invites/{code}")
	resolveInvite.SetSummary("Resolve invite code")
	resolveInvite.AddReqStructure(invitePath{})
	resolveInvite.AddRespStructure(turtlesoup.Room{}, openapi.WithHTTPStatus(http.StatusOK))
	resolveInvite.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	resolveInvite.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	_ = r.AddOperation(resolveInvite)

	// POST /api/rooms/{roomID}/join
	postJoin, _ := r.NewOperationContext(http.MethodPost, "/api/rooms/{roomID}/join")
	postJoin.SetSummary("Join room")
	postJoin.SetDescription("Idempotent. Joining again only refreshes lastActive.")
	postJoin.AddReqStructure(roomPath{})
	postJoin.AddRespStructure(turtlesoup.Participant{}, openapi.WithHTTPStatus(http.StatusOK))
	postJoin.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	_ = r.AddOperation(postJoin)

	// DELETE /api/rooms/{roomID}/participants/me
	deleteMe, _ := r.NewOperationContext(http.MethodDelete, "/api/rooms/{roomID}/participants/me")
	deleteMe.SetSummary("Leave room")
	deleteMe.AddReqStructure(roomPath{})
	deleteMe.AddRespStructure(nil, openapi.WithHTTPStatus(http.StatusNoContent))
	_ = r.AddOperation(deleteMe)

	// GET /api/rooms/{roomID}/participants
	listParticipants, _ := r.NewOperationContext(http.MethodGet, "/api/rooms/{roomID}/participants")
	listParticipants.SetSummary("List participants")
	listParticipants.SetDescription("Host first, then by join time.")
	listParticipants.AddReqStructure(roomPath{})
	listParticipants.AddRespStructure([]turtlesoup.Participant{}, openapi.WithHTTPStatus(http.StatusOK))
	_ = r.AddOperation(listParticipants)

	// GET /api/rooms/{roomID}/messages
	listMessages, _ := r.NewOperationContext(http.MethodGet, "/api/rooms/{roomID}/messages")
	listMessages.SetSummary("Message history")
	listMessages.SetDescription("Oldest first; messages created in the same millisecond keep insertion order.")
	listMessages.AddReqStructure(listMessagesQuery{})
	listMessages.AddRespStructure([]turtlesoup.Message{}, openapi.WithHTTPStatus(http.StatusOK))
	listMessages.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	_ = r.AddOperation(listMessages)

	// POST /api/rooms/{roomID}/messages
	postMessage, _ := r.NewOperationContext(http.MethodPost, "/api/rooms/{roomID}/messages")
	postMessage.SetSummary("Send message")
	postMessage.SetDescription("Participants only. Answers and clues may only be sent by the host.")
	postMessage.AddReqStructure(sendMessageRequest{})
	postMessage.AddRespStructure(turtlesoup.Message{}, openapi.WithHTTPStatus(http.StatusCreated))
	postMessage.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	postMessage.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusForbidden))
	postMessage.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	_ = r.AddOperation(postMessage)

	// GET /api/rooms/{roomID}/events
	getEvents, _ := r.NewOperationContext(http.MethodGet, "/api/rooms/{roomID}/events")
	getEvents.SetSummary("SSE event stream")
	getEvents.SetDescription("Server-Sent Events for messages, roster changes and status updates. Pass the token as query parameter. A final closed event asks the client to resync.")
	getEvents.AddReqStructure(roomPath{})
	getEvents.AddRespStructure(realtime.Event{}, openapi.WithHTTPStatus(http.StatusOK),
		openapi.WithContentType("text/event-stream"))
	getEvents.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusForbidden))
	_ = r.AddOperation(getEvents)

	// GET /api/rooms/{roomID}/ws
	getWS, _ := r.NewOperationContext(http.MethodGet, "/api/rooms/{roomID}/ws")
	getWS.SetSummary("WebSocket event stream")
	getWS.SetDescription("Same events as the SSE stream as JSON text frames. Frames sent by the client are posted as messages.")
	getWS.AddReqStructure(roomPath{})
	getWS.AddRespStructure(nil, openapi.WithHTTPStatus(http.StatusSwitchingProtocols),
		openapi.WithContentType("text/plain"))
	_ = r.AddOperation(getWS)

	// POST /api/images
	postImage, _ := r.NewOperationContext(http.MethodPost, "/api/images")
	postImage.SetSummary("Upload image")
	postImage.SetDescription("PNG, JPEG, GIF or WebP up to 5 MiB in the multipart field file.")
	postImage.AddReqStructure(uploadForm{})
	postImage.AddRespStructure(UploadImageResponse{}, openapi.WithHTTPStatus(http.StatusCreated))
	postImage.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	_ = r.AddOperation(postImage)

	// GET /images/{name}
	getImage, _ := r.NewOperationContext(http.MethodGet, "/images/{name}")
	getImage.SetSummary("Download image")
	getImage.AddReqStructure(imagePath{})
	getImage.AddRespStructure(nil, openapi.WithHTTPStatus(http.StatusOK), openapi.WithContentType("image/*"))
	getImage.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	_ = r.AddOperation(getImage)

	// POST /api/admin/cleanup/run
	postRun, _ := r.NewOperationContext(http.MethodPost, "/api/admin/cleanup/run")
	postRun.SetSummary("Run cleanup")
	postRun.SetDescription("Sweeps expired rooms and anonymous users now. Requires admin basic auth.")
	postRun.AddRespStructure(sweeper.Result{}, openapi.WithHTTPStatus(http.StatusOK))
	postRun.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusConflict))
	postRun.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusUnauthorized))
	_ = r.AddOperation(postRun)

	// GET /api/admin/cleanup/expired
	getExpired, _ := r.NewOperationContext(http.MethodGet, "/api/admin/cleanup/expired")
	getExpired.SetSummary("Expired counts")
	getExpired.AddRespStructure(service.ExpiredCounts{}, openapi.WithHTTPStatus(http.StatusOK))
	getExpired.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusUnauthorized))
	_ = r.AddOperation(getExpired)

	// GET /api/admin/cleanup/schedule
	getSchedule, _ := r.NewOperationContext(http.MethodGet, "/api/admin/cleanup/schedule")
	getSchedule.SetSummary("Cleanup schedule status")
	getSchedule.AddRespStructure(sweeper.Status{}, openapi.WithHTTPStatus(http.StatusOK))
	getSchedule.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusUnauthorized))
	_ = r.AddOperation(getSchedule)

	// POST /api/admin/cleanup/schedule
	postSchedule, _ := r.NewOperationContext(http.MethodPost, "/api/admin/cleanup/schedule")
	postSchedule.SetSummary("Start cleanup schedule")
	postSchedule.SetDescription("Restarts the periodic sweep every intervalHours (1 to 168).")
	postSchedule.AddReqStructure(CleanupScheduleRequest{})
	postSchedule.AddRespStructure(sweeper.Status{}, openapi.WithHTTPStatus(http.StatusOK))
	postSchedule.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	postSchedule.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusUnauthorized))
	_ = r.AddOperation(postSchedule)

	// DELETE /api/admin/cleanup/schedule
	deleteSchedule, _ := r.NewOperationContext(http.MethodDelete, "/api/admin/cleanup/schedule")
	deleteSchedule.SetSummary("Stop cleanup schedule")
	deleteSchedule.AddRespStructure(CleanupStopResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	deleteSchedule.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusUnauthorized))
	_ = r.AddOperation(deleteSchedule)

	return r.Spec
}

func handleOpenAPI() http.HandlerFunc {
	spec := newOpenAPISpec()
	data, _ := json.MarshalIndent(spec, "", "  ")

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}
