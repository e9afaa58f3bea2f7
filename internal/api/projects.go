package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/netsblox/cloud/internal/auth"
	"github.com/netsblox/cloud/internal/model"
	"github.com/netsblox/cloud/internal/projects"
	"github.com/netsblox/cloud/internal/usererr"
)

// latestRoleTimeout bounds how long GetLatestRole waits for a live
// occupant to answer before falling back to the persisted blob.
const latestRoleTimeout = 3 * time.Second

type roleDataJSON struct {
	Name  string `json:"name"`
	Code  string `json:"code"`
	Media string `json:"media"`
}

type projectDataJSON struct {
	Owner string         `json:"owner"`
	Name  string         `json:"name"`
	Roles []roleDataJSON `json:"roles"`
}

func toRoleData(in []roleDataJSON) []projects.RoleData {
	out := make([]projects.RoleData, len(in))
	for i, r := range in {
		out[i] = projects.RoleData{Name: r.Name, Code: []byte(r.Code), Media: []byte(r.Media)}
	}
	return out
}

// CreateProject handles POST /projects/.
func (s *Server) CreateProject(c *gin.Context) {
	var body projectDataJSON
	if err := c.ShouldBindJSON(&body); err != nil {
		respondErr(c, usererr.New(usererr.InvalidName, "malformed project data"))
		return
	}
	owner := body.Owner
	if owner == "" {
		owner = auth.FromGin(c).Username
	}
	ew, err := s.Checker.TryEditUser(c.Request.Context(), auth.FromGin(c), owner)
	if err != nil {
		respondErr(c, err)
		return
	}
	proj, err := s.Projects.Create(c.Request.Context(), *ew, projects.ProjectData{
		Owner: owner,
		Name:  body.Name,
		Roles: toRoleData(body.Roles),
	})
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, proj)
}

// ListProjectsByOwner handles GET /projects/user/{owner}.
func (s *Server) ListProjectsByOwner(c *gin.Context) {
	owner := c.Param("owner")
	list, err := s.Metadata.ListProjectsByOwner(c.Request.Context(), owner)
	if err != nil {
		respondErr(c, usererr.DatabaseError(err))
		return
	}
	c.JSON(http.StatusOK, s.filterVisible(c, list))
}

// ListProjectsSharedWith handles GET /projects/shared/{user}.
func (s *Server) ListProjectsSharedWith(c *gin.Context) {
	user := c.Param("user")
	list, err := s.Metadata.ListProjectsSharedWith(c.Request.Context(), user)
	if err != nil {
		respondErr(c, usererr.DatabaseError(err))
		return
	}
	c.JSON(http.StatusOK, s.filterVisible(c, list))
}

func (s *Server) filterVisible(c *gin.Context, list []model.ProjectMetadata) []model.ProjectMetadata {
	id := auth.FromGin(c)
	out := make([]model.ProjectMetadata, 0, len(list))
	for _, p := range list {
		if _, err := s.Checker.TryViewProject(c.Request.Context(), id, p.ID); err == nil {
			out = append(out, p)
		}
	}
	return out
}

// projectIDParam reads the project id from whichever route param holds it
// ("id" under /projects/id/{id}, "projectId" under /network/id/{projectId}).
func projectIDParam(c *gin.Context) model.ProjectID {
	if v := c.Param("id"); v != "" {
		return model.ProjectID(v)
	}
	return model.ProjectID(c.Param("projectId"))
}

func (s *Server) viewProjectByID(c *gin.Context) (*model.ProjectMetadata, error) {
	vp, err := s.Checker.TryViewProject(c.Request.Context(), auth.FromGin(c), projectIDParam(c))
	if err != nil {
		return nil, err
	}
	return vp.Project(), nil
}

// GetProject handles GET /projects/id/{id}.
func (s *Server) GetProject(c *gin.Context) {
	proj, err := s.viewProjectByID(c)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, proj)
}

// GetProjectByName handles GET /projects/user/{owner}/{name}.
func (s *Server) GetProjectByName(c *gin.Context) {
	proj, err := s.Metadata.GetProjectByName(c.Request.Context(), c.Param("owner"), c.Param("name"))
	if err != nil {
		respondErr(c, usererr.New(usererr.ProjectNotFound, "project not found"))
		return
	}
	if _, err := s.Checker.TryViewProject(c.Request.Context(), auth.FromGin(c), proj.ID); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, proj)
}

// GetProjectMetadata handles GET /projects/id/{id}/metadata.
func (s *Server) GetProjectMetadata(c *gin.Context) {
	s.GetProject(c)
}

// GetLatestProject handles GET /projects/id/{id}/latest: returns the
// persisted metadata, falling back to nothing extra since whole-project
// live reads are not part of the hot-read mechanism (only a single role
// can be asked for its live contents).
func (s *Server) GetLatestProject(c *gin.Context) {
	s.GetProject(c)
}

// GetThumbnail handles GET /projects/id/{id}/thumbnail?aspectRatio=F.
func (s *Server) GetThumbnail(c *gin.Context) {
	vp, err := s.Checker.TryViewProject(c.Request.Context(), auth.FromGin(c), model.ProjectID(c.Param("id")))
	if err != nil {
		respondErr(c, err)
		return
	}
	var ratio *float64
	if raw := c.Query("aspectRatio"); raw != "" {
		if f, parseErr := strconv.ParseFloat(raw, 64); parseErr == nil {
			ratio = &f
		}
	}
	img, err := s.Projects.GetThumbnail(c.Request.Context(), *vp, ratio)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", img)
}

func (s *Server) editProjectByID(c *gin.Context) (*auth.EditProject, error) {
	return s.Checker.TryEditProject(c.Request.Context(), auth.FromGin(c), projectIDParam(c))
}

// PublishProject handles POST /projects/id/{id}/publish.
func (s *Server) PublishProject(c *gin.Context) {
	ep, err := s.editProjectByID(c)
	if err != nil {
		respondErr(c, err)
		return
	}
	proj, err := s.Projects.Publish(c.Request.Context(), *ep)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, proj)
}

// UnpublishProject handles POST /projects/id/{id}/unpublish.
func (s *Server) UnpublishProject(c *gin.Context) {
	ep, err := s.editProjectByID(c)
	if err != nil {
		respondErr(c, err)
		return
	}
	proj, err := s.Projects.Unpublish(c.Request.Context(), *ep)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, proj)
}

// RenameProject handles PATCH /projects/id/{id}.
func (s *Server) RenameProject(c *gin.Context) {
	var body struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondErr(c, usererr.New(usererr.InvalidName, "malformed rename request"))
		return
	}
	ep, err := s.editProjectByID(c)
	if err != nil {
		respondErr(c, err)
		return
	}
	proj, err := s.Projects.Rename(c.Request.Context(), *ep, body.Name)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, proj)
}

// DeleteProject handles DELETE /projects/id/{id}.
func (s *Server) DeleteProject(c *gin.Context) {
	dp, err := s.Checker.TryDeleteProject(c.Request.Context(), auth.FromGin(c), model.ProjectID(c.Param("id")))
	if err != nil {
		respondErr(c, err)
		return
	}
	if err := s.Projects.DeleteProject(c.Request.Context(), *dp); err != nil {
		respondErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// AddRole handles POST /projects/id/{id}/roles/.
func (s *Server) AddRole(c *gin.Context) {
	var body roleDataJSON
	_ = c.ShouldBindJSON(&body)
	ep, err := s.editProjectByID(c)
	if err != nil {
		respondErr(c, err)
		return
	}
	proj, err := s.Projects.CreateRole(c.Request.Context(), *ep, projects.RoleData{
		Name:  body.Name,
		Code:  []byte(body.Code),
		Media: []byte(body.Media),
	})
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, proj)
}

// GetRole handles GET /projects/id/{id}/roles/{roleId}.
func (s *Server) GetRole(c *gin.Context) {
	proj, err := s.viewProjectByID(c)
	if err != nil {
		respondErr(c, err)
		return
	}
	role, ok := proj.Roles[model.RoleID(c.Param("roleId"))]
	if !ok {
		respondErr(c, usererr.New(usererr.RoleNotFound, "role not found"))
		return
	}
	code, _ := s.Blobs.Get(c.Request.Context(), role.CodeKey)
	media, _ := s.Blobs.Get(c.Request.Context(), role.MediaKey)
	c.JSON(http.StatusOK, gin.H{"name": role.Name, "code": string(code), "media": string(media)})
}

// SaveRole handles POST /projects/id/{id}/roles/{roleId}.
func (s *Server) SaveRole(c *gin.Context) {
	var body roleDataJSON
	if err := c.ShouldBindJSON(&body); err != nil {
		respondErr(c, usererr.New(usererr.InvalidName, "malformed role data"))
		return
	}
	ep, err := s.editProjectByID(c)
	if err != nil {
		respondErr(c, err)
		return
	}
	proj, err := s.Projects.SaveRole(c.Request.Context(), *ep, model.RoleID(c.Param("roleId")), projects.RoleData{
		Name:  body.Name,
		Code:  []byte(body.Code),
		Media: []byte(body.Media),
	})
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, proj)
}

// RenameRole handles PATCH /projects/id/{id}/roles/{roleId}.
func (s *Server) RenameRole(c *gin.Context) {
	var body struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondErr(c, usererr.New(usererr.InvalidName, "malformed rename request"))
		return
	}
	ep, err := s.editProjectByID(c)
	if err != nil {
		respondErr(c, err)
		return
	}
	proj, err := s.Projects.RenameRole(c.Request.Context(), *ep, model.RoleID(c.Param("roleId")), body.Name)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, proj)
}

// DeleteRole handles DELETE /projects/id/{id}/roles/{roleId}.
func (s *Server) DeleteRole(c *gin.Context) {
	ep, err := s.editProjectByID(c)
	if err != nil {
		respondErr(c, err)
		return
	}
	proj, err := s.Projects.DeleteRole(c.Request.Context(), *ep, model.RoleID(c.Param("roleId")))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, proj)
}

// GetLatestRole handles GET /projects/id/{id}/roles/{roleId}/latest: asks the
// first live occupant of the role for its unsaved contents, falling back
// to the persisted blob if nobody answers within the deadline.
func (s *Server) GetLatestRole(c *gin.Context) {
	proj, err := s.viewProjectByID(c)
	if err != nil {
		respondErr(c, err)
		return
	}
	roleID := model.RoleID(c.Param("roleId"))
	role, ok := proj.Roles[roleID]
	if !ok {
		respondErr(c, usererr.New(usererr.RoleNotFound, "role not found"))
		return
	}

	if req, ok := s.Topology.GetRoleRequest(proj.ID, roleID); ok {
		if data, ok := req.Await(c.Request.Context(), latestRoleTimeout); ok {
			c.Data(http.StatusOK, "application/json", data)
			return
		}
	}

	code, _ := s.Blobs.Get(c.Request.Context(), role.CodeKey)
	media, _ := s.Blobs.Get(c.Request.Context(), role.MediaKey)
	c.JSON(http.StatusOK, gin.H{"name": role.Name, "code": string(code), "media": string(media)})
}

// ResolveLatestRole handles POST /projects/id/{id}/roles/{roleId}/latest: the
// occupant's client answers a pending GetLatestRole request.
func (s *Server) ResolveLatestRole(c *gin.Context) {
	var body struct {
		ID   string `json:"id"`
		Data json.RawMessage `json:"data"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondErr(c, usererr.New(usererr.InvalidName, "malformed role response"))
		return
	}
	if !s.Topology.ResolveRoleRequest(body.ID, body.Data) {
		respondErr(c, usererr.New(usererr.RoleNotFound, "no pending request with that id"))
		return
	}
	c.Status(http.StatusNoContent)
}

// GetCollaborator handles GET /projects/id/{id}/collaborators/{user}.
func (s *Server) GetCollaborator(c *gin.Context) {
	proj, err := s.viewProjectByID(c)
	if err != nil {
		respondErr(c, err)
		return
	}
	user := c.Param("user")
	for _, collab := range proj.Collaborators {
		if collab == user {
			c.Status(http.StatusNoContent)
			return
		}
	}
	respondErr(c, usererr.New(usererr.UserNotFound, "not a collaborator"))
}

// AddCollaborator handles POST /projects/id/{id}/collaborators/{user}.
func (s *Server) AddCollaborator(c *gin.Context) {
	ep, err := s.editProjectByID(c)
	if err != nil {
		respondErr(c, err)
		return
	}
	proj, err := s.Projects.AddCollaborator(c.Request.Context(), *ep, c.Param("user"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, proj)
}

// RemoveCollaborator handles DELETE /projects/id/{id}/collaborators/{user}.
func (s *Server) RemoveCollaborator(c *gin.Context) {
	ep, err := s.editProjectByID(c)
	if err != nil {
		respondErr(c, err)
		return
	}
	proj, err := s.Projects.RemoveCollaborator(c.Request.Context(), *ep, c.Param("user"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, proj)
}
