package rest

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/hrdesk/pbac/internal/policy"
	"github.com/hrdesk/pbac/pkg/types"
)

const resourcePolicy = "policy"

// listRolesHandler handles GET /v1/roles
func (s *Server) listRolesHandler(w http.ResponseWriter, r *http.Request) {
	roles, err := s.policies.ListRoles(r.Context())
	if err != nil {
		s.writeServiceError(w, r, "list_roles", err)
		return
	}
	WriteJSON(w, http.StatusOK, roles)
}

// rolePoliciesHandler handles GET /v1/roles/{id}/policies
func (s *Server) rolePoliciesHandler(w http.ResponseWriter, r *http.Request) {
	s.subjectPolicies(w, r, types.SubjectRole)
}

// userPoliciesHandler handles GET /v1/users/{id}/policies
func (s *Server) userPoliciesHandler(w http.ResponseWriter, r *http.Request) {
	s.subjectPolicies(w, r, types.SubjectUser)
}

func (s *Server) subjectPolicies(w http.ResponseWriter, r *http.Request, subjectType types.SubjectType) {
	if _, ok := s.require(w, r, "read", resourcePolicy); !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	policies, err := s.policies.ListPoliciesForSubject(r.Context(), subjectType, id)
	if err != nil {
		s.writeServiceError(w, r, "list_subject_policies", err)
		return
	}
	WriteJSON(w, http.StatusOK, policies)
}

// listPoliciesHandler handles GET /v1/policies
func (s *Server) listPoliciesHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.require(w, r, "read", resourcePolicy); !ok {
		return
	}
	query := r.URL.Query()

	limit := 50
	if limitStr := query.Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 1000 {
			limit = l
		}
	}
	offset := 0
	if offsetStr := query.Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	all, err := s.policies.ListPolicies(r.Context())
	if err != nil {
		s.writeServiceError(w, r, "list_policies", err)
		return
	}

	if status := query.Get("status"); status != "" {
		want, err := types.ParsePolicyStatus(status)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), nil)
			return
		}
		filtered := all[:0]
		for _, p := range all {
			if p.Status == want {
				filtered = append(filtered, p)
			}
		}
		all = filtered
	}

	total := len(all)
	start, end := offset, offset+limit
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}

	var nextOffset *int
	if end < total {
		next := end
		nextOffset = &next
	}

	WriteJSON(w, http.StatusOK, PolicyListResponse{
		Policies:   all[start:end],
		Total:      total,
		Offset:     offset,
		Limit:      limit,
		NextOffset: nextOffset,
	})
}

// createPolicyHandler handles POST /v1/policies
func (s *Server) createPolicyHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.require(w, r, "create", resourcePolicy); !ok {
		return
	}
	var req policy.CreatePolicyInput
	if !decodeJSON(w, r, &req) {
		return
	}

	p, err := s.policies.CreatePolicy(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, "create_policy", err)
		return
	}
	WriteJSON(w, http.StatusCreated, p)
}

// getPolicyHandler handles GET /v1/policies/{id}
func (s *Server) getPolicyHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.require(w, r, "read", resourcePolicy); !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	p, err := s.policies.GetPolicy(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, "get_policy", err)
		return
	}
	WriteJSON(w, http.StatusOK, p)
}

// updatePolicyHandler handles PUT /v1/policies/{id}
func (s *Server) updatePolicyHandler(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.require(w, r, "edit", resourcePolicy)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok || !s.requireEditor(w, r, identity, id) {
		return
	}
	var req UpdatePolicyRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	p, err := s.policies.UpdatePolicyContent(r.Context(), id, req.Name, req.Description)
	if err != nil {
		s.writeServiceError(w, r, "update_policy", err)
		return
	}
	WriteJSON(w, http.StatusOK, p)
}

// deletePolicyHandler handles DELETE /v1/policies/{id}
func (s *Server) deletePolicyHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.require(w, r, "delete", resourcePolicy); !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if err := s.policies.DeletePolicy(r.Context(), id); err != nil {
		s.writeServiceError(w, r, "delete_policy", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// activatePolicyHandler handles POST /v1/policies/{id}/activate
func (s *Server) activatePolicyHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.require(w, r, "activate", resourcePolicy); !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	p, err := s.policies.Activate(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, "activate", err)
		return
	}
	WriteJSON(w, http.StatusOK, p)
}

// archivePolicyHandler handles POST /v1/policies/{id}/archive
func (s *Server) archivePolicyHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.require(w, r, "archive", resourcePolicy); !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	p, err := s.policies.Archive(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, "archive", err)
		return
	}
	WriteJSON(w, http.StatusOK, p)
}

// listVersionsHandler handles GET /v1/policies/{id}/versions
func (s *Server) listVersionsHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.require(w, r, "read", resourcePolicy); !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	versions, err := s.policies.ListVersions(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, "list_versions", err)
		return
	}
	WriteJSON(w, http.StatusOK, versions)
}

// listRulesHandler handles GET /v1/policies/{id}/rules
func (s *Server) listRulesHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.require(w, r, "read", resourcePolicy); !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	rules, err := s.policies.ListRules(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, "list_rules", err)
		return
	}
	WriteJSON(w, http.StatusOK, rules)
}

// addRuleHandler handles POST /v1/policies/{id}/rules
func (s *Server) addRuleHandler(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.require(w, r, "edit", resourcePolicy)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok || !s.requireEditor(w, r, identity, id) {
		return
	}
	var req policy.RuleInput
	if !decodeJSON(w, r, &req) {
		return
	}

	rule, err := s.policies.AddRule(r.Context(), id, req)
	if err != nil {
		s.writeServiceError(w, r, "add_rule", err)
		return
	}
	WriteJSON(w, http.StatusCreated, rule)
}

// removeRuleHandler handles DELETE /v1/rules/{id}
func (s *Server) removeRuleHandler(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.require(w, r, "edit", resourcePolicy)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	rule, err := s.policies.GetRule(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, "remove_rule", err)
		return
	}
	if !s.requireEditor(w, r, identity, rule.PolicyID) {
		return
	}

	if err := s.policies.RemoveRule(r.Context(), id); err != nil {
		s.writeServiceError(w, r, "remove_rule", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// listBindingsHandler handles GET /v1/policies/{id}/bindings
func (s *Server) listBindingsHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.require(w, r, "read", resourcePolicy); !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	bindings, err := s.policies.ListBindings(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, "list_bindings", err)
		return
	}
	WriteJSON(w, http.StatusOK, bindings)
}

// bindHandler handles POST /v1/policies/{id}/bindings
func (s *Server) bindHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.require(w, r, "bind", resourcePolicy); !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req BindRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	b, created, err := s.policies.Bind(r.Context(), id, req.SubjectType, req.SubjectID)
	if err != nil {
		s.writeServiceError(w, r, "bind", err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	WriteJSON(w, status, b)
}

// unbindHandler handles DELETE /v1/bindings/{id}
func (s *Server) unbindHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.require(w, r, "bind", resourcePolicy); !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if err := s.policies.Unbind(r.Context(), id); err != nil {
		s.writeServiceError(w, r, "unbind", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// listEditorsHandler handles GET /v1/policies/{id}/editors
func (s *Server) listEditorsHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.require(w, r, "read", resourcePolicy); !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if _, err := s.policies.GetPolicy(r.Context(), id); err != nil {
		s.writeServiceError(w, r, "list_editors", err)
		return
	}
	perms, err := s.policies.ListEditorPermissions(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, "list_editors", err)
		return
	}
	WriteJSON(w, http.StatusOK, perms)
}

// grantEditorHandler handles POST /v1/policies/{id}/editors
func (s *Server) grantEditorHandler(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.require(w, r, "delegate", resourcePolicy)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok || !s.requireEditor(w, r, identity, id) {
		return
	}
	var req GrantEditorRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.RoleLevel == nil {
		WriteError(w, http.StatusBadRequest, "role_level is required", nil)
		return
	}

	perm, err := s.policies.GrantEditor(r.Context(), id, *req.RoleLevel)
	if err != nil {
		s.writeServiceError(w, r, "grant_editor", err)
		return
	}
	WriteJSON(w, http.StatusOK, perm)
}

// revokeEditorHandler handles DELETE /v1/policies/{id}/editors/{level}
func (s *Server) revokeEditorHandler(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.require(w, r, "delegate", resourcePolicy)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok || !s.requireEditor(w, r, identity, id) {
		return
	}
	level, err := strconv.Atoi(mux.Vars(r)["level"])
	if err != nil {
		WriteError(w, http.StatusBadRequest, "level must be an integer", nil)
		return
	}

	if err := s.policies.RevokeEditor(r.Context(), id, level); err != nil {
		s.writeServiceError(w, r, "revoke_editor", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
