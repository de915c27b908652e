package store

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chartflow/chartflow/pkg/models"
)

// Plans persists saved workflows, one file per plan name.
type Plans struct {
	dir string

	mu    sync.RWMutex
	cache map[string]*models.Plan
}

// Get loads a plan by name.
func (p *Plans) Get(name string) (*models.Plan, error) {
	p.mu.RLock()
	if plan, ok := p.cache[name]; ok {
		p.mu.RUnlock()
		return plan, nil
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	if plan, ok := p.cache[name]; ok {
		return plan, nil
	}
	var plan models.Plan
	if err := readJSON(filepath.Join(p.dir, name+".json"), &plan); err != nil {
		return nil, err
	}
	if p.cache == nil {
		p.cache = map[string]*models.Plan{}
	}
	p.cache[name] = &plan
	return &plan, nil
}

// Save writes a plan to disk and refreshes the cache.
func (p *Plans) Save(plan *models.Plan) error {
	plan.UpdatedAt = time.Now().UTC()
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = plan.UpdatedAt
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := writeJSON(filepath.Join(p.dir, plan.Name+".json"), plan); err != nil {
		return err
	}
	if p.cache == nil {
		p.cache = map[string]*models.Plan{}
	}
	p.cache[plan.Name] = plan
	return nil
}

// Delete removes a plan from disk and cache.
func (p *Plans) Delete(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := os.Remove(filepath.Join(p.dir, name+".json")); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return err
	}
	delete(p.cache, name)
	return nil
}

// List returns plan names.
func (p *Plans) List() ([]string, error) {
	return listNames(p.dir, true)
}

// Projects persists project records, one file per project name.
type Projects struct {
	dir string

	mu    sync.RWMutex
	cache map[string]*models.Project
}

// Get loads a project by name.
func (p *Projects) Get(name string) (*models.Project, error) {
	p.mu.RLock()
	if proj, ok := p.cache[name]; ok {
		p.mu.RUnlock()
		return proj, nil
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	if proj, ok := p.cache[name]; ok {
		return proj, nil
	}
	var proj models.Project
	if err := readJSON(filepath.Join(p.dir, name+".json"), &proj); err != nil {
		return nil, err
	}
	if p.cache == nil {
		p.cache = map[string]*models.Project{}
	}
	p.cache[name] = &proj
	return &proj, nil
}

// Save writes a project and refreshes the cache.
func (p *Projects) Save(proj *models.Project) error {
	if proj.CreatedAt.IsZero() {
		proj.CreatedAt = time.Now().UTC()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := writeJSON(filepath.Join(p.dir, proj.Name+".json"), proj); err != nil {
		return err
	}
	if p.cache == nil {
		p.cache = map[string]*models.Project{}
	}
	p.cache[proj.Name] = proj
	return nil
}

// Delete removes a project.
func (p *Projects) Delete(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := os.Remove(filepath.Join(p.dir, name+".json")); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return err
	}
	delete(p.cache, name)
	return nil
}

// List returns project names.
func (p *Projects) List() ([]string, error) {
	return listNames(p.dir, true)
}

// Users persists user records, one file per username.
type Users struct {
	dir string

	mu    sync.RWMutex
	cache map[string]*models.User
}

// Get loads a user by username.
func (u *Users) Get(username string) (*models.User, error) {
	u.mu.RLock()
	if usr, ok := u.cache[username]; ok {
		u.mu.RUnlock()
		return usr, nil
	}
	u.mu.RUnlock()

	u.mu.Lock()
	defer u.mu.Unlock()
	if usr, ok := u.cache[username]; ok {
		return usr, nil
	}
	var usr models.User
	if err := readJSON(filepath.Join(u.dir, username+".json"), &usr); err != nil {
		return nil, err
	}
	if u.cache == nil {
		u.cache = map[string]*models.User{}
	}
	u.cache[username] = &usr
	return &usr, nil
}

// Save writes a user and refreshes the cache.
func (u *Users) Save(usr *models.User) error {
	if usr.CreatedAt.IsZero() {
		usr.CreatedAt = time.Now().UTC()
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if err := writeJSON(filepath.Join(u.dir, usr.Username+".json"), usr); err != nil {
		return err
	}
	if u.cache == nil {
		u.cache = map[string]*models.User{}
	}
	u.cache[usr.Username] = usr
	return nil
}

// Delete removes a user.
func (u *Users) Delete(username string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if err := os.Remove(filepath.Join(u.dir, username+".json")); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return err
	}
	delete(u.cache, username)
	return nil
}

// List returns usernames.
func (u *Users) List() ([]string, error) {
	return listNames(u.dir, true)
}

// Annotations persists reviewer annotations, one file per annotation id.
type Annotations struct {
	dir string

	mu sync.Mutex
}

// Save writes an annotation.
func (a *Annotations) Save(ann *models.Annotation) error {
	if ann.CreatedAt.IsZero() {
		ann.CreatedAt = time.Now().UTC()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return writeJSON(filepath.Join(a.dir, ann.ID+".json"), ann)
}

// Get loads an annotation by id.
func (a *Annotations) Get(id string) (*models.Annotation, error) {
	var ann models.Annotation
	if err := readJSON(filepath.Join(a.dir, id+".json"), &ann); err != nil {
		return nil, err
	}
	return &ann, nil
}

// List loads every annotation attached to an output value, or all when
// outputValueID is empty.
func (a *Annotations) List(outputValueID string) ([]models.Annotation, error) {
	ids, err := listNames(a.dir, true)
	if err != nil {
		return nil, err
	}
	var out []models.Annotation
	for _, id := range ids {
		ann, err := a.Get(id)
		if err != nil {
			return nil, err
		}
		if outputValueID == "" || ann.OutputValueID == outputValueID {
			out = append(out, *ann)
		}
	}
	return out, nil
}
