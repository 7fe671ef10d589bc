package handlers

import (
	"github.com/freelance-marketplace/backend/internal/http/dto"
	"github.com/freelance-marketplace/backend/internal/middleware"
	"github.com/freelance-marketplace/backend/internal/models"
	"github.com/freelance-marketplace/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ProjectHandler struct {
	projectService   *services.ProjectService
	milestoneService *services.MilestoneService
	log              *zap.Logger
}

func NewProjectHandler(projectService *services.ProjectService, milestoneService *services.MilestoneService, log *zap.Logger) *ProjectHandler {
	return &ProjectHandler{projectService: projectService, milestoneService: milestoneService, log: log}
}

func (h *ProjectHandler) CreateProject(c *fiber.Ctx) error {
	var req dto.CreateProjectRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}

	in := services.CreateProjectInput{
		Title:          req.Title,
		Description:    req.Description,
		Category:       req.Category,
		Budget:         req.Budget,
		Deadline:       req.Deadline,
		RequiredSkills: req.RequiredSkills,
	}
	for _, m := range req.Milestones {
		in.Milestones = append(in.Milestones, milestoneInput(m))
	}

	agg, err := h.projectService.CreateProject(c.Context(), middleware.GetPrincipal(c), in)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return created(c, agg)
}

func (h *ProjectHandler) ListProjects(c *fiber.Ctx) error {
	limit, offset := paging(c)
	f := services.ProjectFilter{
		Status:   optionalQuery(c, "status"),
		Category: optionalQuery(c, "category"),
		Limit:    limit,
		Offset:   offset,
	}

	p := middleware.GetPrincipal(c)
	switch c.Query("role") {
	case "employer":
		f.EmployerID = &p.UserID
	case "freelancer":
		f.FreelancerID = &p.UserID
	default:
		// non-participants only browse the open board
		if !p.IsAdmin() {
			open := models.ProjectStatusOpen
			f.Status = &open
		}
	}

	projects, err := h.projectService.ListProjects(c.Context(), f)
	if err != nil {
		return writeError(c, h.log, err)
	}
	if projects == nil {
		projects = []models.Project{}
	}
	return ok(c, projects)
}

func (h *ProjectHandler) GetProject(c *fiber.Ctx) error {
	id, valid := paramID(c, "id")
	if !valid {
		return badRequest(c, "invalid project id")
	}
	agg, err := h.projectService.GetProject(c.Context(), middleware.GetPrincipal(c), id)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return ok(c, agg)
}

func (h *ProjectHandler) Apply(c *fiber.Ctx) error {
	id, valid := paramID(c, "id")
	if !valid {
		return badRequest(c, "invalid project id")
	}
	var req dto.ApplyRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	app, err := h.projectService.Apply(c.Context(), middleware.GetPrincipal(c), id, req.Proposal, req.ResumeURL)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return created(c, app)
}

func (h *ProjectHandler) ApproveApplication(c *fiber.Ctx) error {
	id, valid := paramID(c, "id")
	if !valid {
		return badRequest(c, "invalid project id")
	}
	appID, valid := paramID(c, "applicationId")
	if !valid {
		return badRequest(c, "invalid application id")
	}

	res, err := h.projectService.ApproveApplication(c.Context(), middleware.GetPrincipal(c), id, appID)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return ok(c, dto.ApprovalResponse{
		Project:       res.Project,
		Escrow:        res.Escrow,
		EscrowPending: res.EscrowError != nil,
	})
}

func (h *ProjectHandler) RejectProject(c *fiber.Ctx) error {
	id, valid := paramID(c, "id")
	if !valid {
		return badRequest(c, "invalid project id")
	}
	var req dto.ReasonRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	agg, err := h.projectService.RejectProject(c.Context(), middleware.GetPrincipal(c), id, req.Reason)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return ok(c, agg)
}

func (h *ProjectHandler) CancelProject(c *fiber.Ctx) error {
	id, valid := paramID(c, "id")
	if !valid {
		return badRequest(c, "invalid project id")
	}
	agg, err := h.projectService.CancelProject(c.Context(), middleware.GetPrincipal(c), id)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return ok(c, agg)
}

func (h *ProjectHandler) AddMilestone(c *fiber.Ctx) error {
	id, valid := paramID(c, "id")
	if !valid {
		return badRequest(c, "invalid project id")
	}
	var req dto.MilestoneRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	m, err := h.milestoneService.AddMilestone(c.Context(), middleware.GetPrincipal(c), id, milestoneInput(req))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return created(c, m)
}

func (h *ProjectHandler) GetProjectEvents(c *fiber.Ctx) error {
	id, valid := paramID(c, "id")
	if !valid {
		return badRequest(c, "invalid project id")
	}
	limit, offset := paging(c)
	logs, err := h.projectService.GetProjectEvents(c.Context(), middleware.GetPrincipal(c), id, limit, offset)
	if err != nil {
		return writeError(c, h.log, err)
	}
	if logs == nil {
		logs = []models.AuditLog{}
	}
	return ok(c, logs)
}

func milestoneInput(m dto.MilestoneRequest) services.MilestoneInput {
	return services.MilestoneInput{
		Title:       m.Title,
		Description: m.Description,
		Amount:      m.Amount,
		DueDate:     m.DueDate,
	}
}

func parseOptionalID(s *string) (*uuid.UUID, bool) {
	if s == nil || *s == "" {
		return nil, true
	}
	id, err := uuid.Parse(*s)
	if err != nil {
		return nil, false
	}
	return &id, true
}
