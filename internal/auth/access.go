package auth

import "github.com/chartflow/chartflow/pkg/models"

// CanAccessDataset reports whether a user may read a dataset. Admins see
// everything; others only what their allow-list names.
func CanAccessDataset(user *models.User, dataset string) bool {
	if user == nil {
		return false
	}
	if user.Admin {
		return true
	}
	for _, name := range user.AllowedDatasets {
		if name == dataset {
			return true
		}
	}
	return false
}

// CanAccessProject reports whether a user may work inside a project.
func CanAccessProject(user *models.User, project *models.Project) bool {
	if user == nil || project == nil {
		return false
	}
	if user.Admin || project.Owner == user.Username {
		return true
	}
	for _, name := range project.AllowedUsers {
		if name == user.Username {
			return true
		}
	}
	return false
}
