// Package store holds templates, regions and findings in an indexed
// in-memory database, along with the per-user quota ledger and the
// generation audit log. A relational backing store can replace it behind the
// same surface; the semantics here (soft-delete, clone back-references,
// per-exam-type version counters, single-writer quota updates) are the
// contract.
package store

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	memdb "github.com/hashicorp/go-memdb"

	"github.com/eduardocaminha/radreport/pkg/report"
	"github.com/eduardocaminha/radreport/pkg/utils"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrNotOwner      = errors.New("caller does not own the template")
	ErrQuotaExceeded = errors.New("monthly report limit reached")
)

type Store struct {
	db     *memdb.MemDB
	nextID atomic.Uint64

	// Version counters per exam type, bumped synchronously on any mutation
	// that can change the assembled grounding block. The grounding cache
	// consults these; correctness over hit rate.
	versionMu sync.RWMutex
	versions  map[string]uint64

	now func() time.Time
}

func New() (*Store, error) {
	db, err := memdb.NewMemDB(databaseSchema())
	if err != nil {
		return nil, utils.WrapIfNotNil(err)
	}

	return &Store{
		db:       db,
		versions: make(map[string]uint64),
		now:      time.Now,
	}, nil
}

// TemplateBundle is one template with its regions (by sort order) and
// findings (by insertion order), as read paths hand them out.
type TemplateBundle struct {
	Template report.Template
	Regions  []report.Region
	Findings []report.Finding
}

// Version returns the mutation counter for an exam type. The empty exam type
// tracks mutations across all types.
func (s *Store) Version(examType string) uint64 {
	s.versionMu.RLock()
	defer s.versionMu.RUnlock()
	return s.versions[normalizeExamType(examType)]
}

func (s *Store) bumpVersion(examTypes ...string) {
	s.versionMu.Lock()
	defer s.versionMu.Unlock()

	s.versions[""]++
	for _, examType := range examTypes {
		normalized := normalizeExamType(examType)
		if normalized != "" {
			s.versions[normalized]++
		}
	}
}

func normalizeExamType(examType string) string {
	return strings.ToLower(strings.TrimSpace(examType))
}

func (s *Store) CreateTemplate(tmpl report.Template) (report.Template, error) {
	if strings.TrimSpace(tmpl.Slug) == "" {
		return report.Template{}, utils.WrapIfNotNil(errors.New("template slug is required"))
	}
	if strings.TrimSpace(tmpl.Name) == "" {
		return report.Template{}, utils.WrapIfNotNil(errors.New("template name is required"))
	}

	now := s.now()
	tmpl.ID = s.nextID.Add(1)
	tmpl.CreatedAt = now
	tmpl.UpdatedAt = now
	if tmpl.Status == "" {
		tmpl.Status = report.StatusDraft
	}
	if tmpl.Ownership == "" {
		tmpl.Ownership = report.OwnershipUser
	}

	txn := s.db.Txn(true)
	defer txn.Abort()
	if err := txn.Insert(tableTemplates, &tmpl); err != nil {
		return report.Template{}, utils.WrapIfNotNil(err)
	}
	txn.Commit()

	s.bumpVersion(tmpl.ExamType)
	return tmpl, nil
}

func (s *Store) GetTemplate(id uint64) (report.Template, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tableTemplates, "id", id)
	if err != nil {
		return report.Template{}, utils.WrapIfNotNil(err)
	}
	if raw == nil {
		return report.Template{}, ErrNotFound
	}
	return *raw.(*report.Template), nil
}

// ListFilter narrows ListTemplates. Zero values mean no restriction; archived
// templates are excluded unless IncludeArchived is set.
type ListFilter struct {
	ViewerUserID    string
	Ownership       report.Ownership
	ExamType        string
	Query           string
	IncludeArchived bool
}

// ListTemplates returns the templates visible to the viewer: their own plus
// community ones, filtered and in insertion order.
func (s *Store) ListTemplates(filter ListFilter) ([]report.Template, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tableTemplates, "id")
	if err != nil {
		return nil, utils.WrapIfNotNil(err)
	}

	query := strings.ToLower(strings.TrimSpace(filter.Query))
	results := make([]report.Template, 0)
	for raw := it.Next(); raw != nil; raw = it.Next() {
		tmpl := *raw.(*report.Template)

		if !filter.IncludeArchived && tmpl.Status == report.StatusArchived {
			continue
		}
		if filter.ViewerUserID != "" &&
			tmpl.OwnerUserID != filter.ViewerUserID &&
			tmpl.Ownership != report.OwnershipCommunity &&
			tmpl.Ownership != report.OwnershipSystem {
			continue
		}
		if filter.Ownership != "" && tmpl.Ownership != filter.Ownership {
			continue
		}
		if filter.ExamType != "" && normalizeExamType(tmpl.ExamType) != normalizeExamType(filter.ExamType) {
			continue
		}
		if query != "" && !matchesQuery(tmpl, query) {
			continue
		}
		results = append(results, tmpl)
	}
	return results, nil
}

func matchesQuery(tmpl report.Template, lowerQuery string) bool {
	return strings.Contains(strings.ToLower(tmpl.Name), lowerQuery) ||
		strings.Contains(strings.ToLower(tmpl.ExamType), lowerQuery) ||
		strings.Contains(strings.ToLower(tmpl.Description), lowerQuery)
}

// UpdateTemplate applies the mutator to a copy of the stored row and writes
// it back. The mutator must not touch identity or lifecycle bookkeeping.
func (s *Store) UpdateTemplate(id uint64, mutate func(*report.Template)) (report.Template, error) {
	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tableTemplates, "id", id)
	if err != nil {
		return report.Template{}, utils.WrapIfNotNil(err)
	}
	if raw == nil {
		return report.Template{}, ErrNotFound
	}

	updated := *raw.(*report.Template)
	previousExamType := updated.ExamType
	mutate(&updated)
	updated.ID = id
	updated.UpdatedAt = s.now()

	if err := txn.Insert(tableTemplates, &updated); err != nil {
		return report.Template{}, utils.WrapIfNotNil(err)
	}
	txn.Commit()

	s.bumpVersion(previousExamType, updated.ExamType)
	return updated, nil
}

// ArchiveTemplate soft-deletes. Rows are never hard-removed while references
// (clones, audit records) may exist.
func (s *Store) ArchiveTemplate(id uint64) error {
	_, err := s.UpdateTemplate(id, func(tmpl *report.Template) {
		tmpl.Status = report.StatusArchived
	})
	return err
}

// CloneTemplate produces an independent copy owned by newOwner, with a
// back-reference to its origin. The source's clone counter is incremented.
func (s *Store) CloneTemplate(sourceID uint64, newOwner string) (report.Template, error) {
	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tableTemplates, "id", sourceID)
	if err != nil {
		return report.Template{}, utils.WrapIfNotNil(err)
	}
	if raw == nil {
		return report.Template{}, ErrNotFound
	}
	source := *raw.(*report.Template)

	now := s.now()
	clone := source
	clone.ID = s.nextID.Add(1)
	clone.OwnerUserID = newOwner
	clone.Ownership = report.OwnershipUser
	clone.Slug = source.Slug + "-copy"
	clone.Name = source.Name + " (cópia)"
	clone.Status = report.StatusDraft
	clone.ParentTemplateID = sourceID
	clone.CloneCount = 0
	clone.Keywords = append([]string(nil), source.Keywords...)
	clone.CreatedAt = now
	clone.UpdatedAt = now
	if err := txn.Insert(tableTemplates, &clone); err != nil {
		return report.Template{}, utils.WrapIfNotNil(err)
	}

	source.CloneCount++
	if err := txn.Insert(tableTemplates, &source); err != nil {
		return report.Template{}, utils.WrapIfNotNil(err)
	}

	if err := s.cloneChildren(txn, sourceID, clone.ID); err != nil {
		return report.Template{}, utils.WrapIfNotNil(err)
	}
	txn.Commit()

	s.bumpVersion(clone.ExamType)
	return clone, nil
}

func (s *Store) cloneChildren(txn *memdb.Txn, sourceID, cloneID uint64) error {
	// Collect before inserting; writing a table being iterated is unsafe.
	regionIt, err := txn.Get(tableRegions, "template_id", sourceID)
	if err != nil {
		return err
	}
	regions := make([]report.Region, 0)
	for raw := regionIt.Next(); raw != nil; raw = regionIt.Next() {
		regions = append(regions, *raw.(*report.Region))
	}
	for _, region := range regions {
		region.ID = s.nextID.Add(1)
		region.TemplateID = cloneID
		if err := txn.Insert(tableRegions, &region); err != nil {
			return err
		}
	}

	findingIt, err := txn.Get(tableFindings, "template_id", sourceID)
	if err != nil {
		return err
	}
	findings := make([]report.Finding, 0)
	for raw := findingIt.Next(); raw != nil; raw = findingIt.Next() {
		findings = append(findings, *raw.(*report.Finding))
	}
	for _, finding := range findings {
		finding.ID = s.nextID.Add(1)
		finding.TemplateID = cloneID
		finding.Keywords = append([]string(nil), finding.Keywords...)
		if err := txn.Insert(tableFindings, &finding); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) AddRegion(region report.Region) (report.Region, error) {
	tmpl, err := s.GetTemplate(region.TemplateID)
	if err != nil {
		return report.Region{}, err
	}
	if strings.TrimSpace(region.Slug) == "" {
		return report.Region{}, utils.WrapIfNotNil(errors.New("region slug is required"))
	}

	txn := s.db.Txn(true)
	defer txn.Abort()

	// Region slugs are unique within their template.
	it, err := txn.Get(tableRegions, "template_id", region.TemplateID)
	if err != nil {
		return report.Region{}, utils.WrapIfNotNil(err)
	}
	for raw := it.Next(); raw != nil; raw = it.Next() {
		if raw.(*report.Region).Slug == region.Slug {
			return report.Region{}, utils.WrapIfNotNil(errors.New("region slug already exists in template"))
		}
	}

	region.ID = s.nextID.Add(1)
	if err := txn.Insert(tableRegions, &region); err != nil {
		return report.Region{}, utils.WrapIfNotNil(err)
	}
	txn.Commit()

	s.bumpVersion(tmpl.ExamType)
	return region, nil
}

// AddFinding validates at write time (field-rule keys must match body
// placeholders) but tolerates a region slug with no matching region: the
// reference is matched by string equality and may dangle.
func (s *Store) AddFinding(finding report.Finding) (report.Finding, error) {
	tmpl, err := s.GetTemplate(finding.TemplateID)
	if err != nil {
		return report.Finding{}, err
	}
	if err := finding.Validate(); err != nil {
		return report.Finding{}, utils.WrapIfNotNil(err)
	}

	now := s.now()
	finding.ID = s.nextID.Add(1)
	finding.CreatedAt = now
	finding.UpdatedAt = now

	txn := s.db.Txn(true)
	defer txn.Abort()
	if err := txn.Insert(tableFindings, &finding); err != nil {
		return report.Finding{}, utils.WrapIfNotNil(err)
	}
	txn.Commit()

	s.bumpVersion(tmpl.ExamType)
	return finding, nil
}

func (s *Store) UpdateFinding(id uint64, mutate func(*report.Finding)) (report.Finding, error) {
	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tableFindings, "id", id)
	if err != nil {
		return report.Finding{}, utils.WrapIfNotNil(err)
	}
	if raw == nil {
		return report.Finding{}, ErrNotFound
	}

	updated := *raw.(*report.Finding)
	mutate(&updated)
	updated.ID = id
	updated.UpdatedAt = s.now()
	if err := updated.Validate(); err != nil {
		return report.Finding{}, utils.WrapIfNotNil(err)
	}

	if err := txn.Insert(tableFindings, &updated); err != nil {
		return report.Finding{}, utils.WrapIfNotNil(err)
	}
	txn.Commit()

	tmpl, err := s.GetTemplate(updated.TemplateID)
	if err == nil {
		s.bumpVersion(tmpl.ExamType)
	} else {
		s.bumpVersion()
	}
	return updated, nil
}

func (s *Store) DeleteFinding(id uint64) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tableFindings, "id", id)
	if err != nil {
		return utils.WrapIfNotNil(err)
	}
	if raw == nil {
		return ErrNotFound
	}
	finding := raw.(*report.Finding)
	templateID := finding.TemplateID

	if err := txn.Delete(tableFindings, finding); err != nil {
		return utils.WrapIfNotNil(err)
	}
	txn.Commit()

	tmpl, err := s.GetTemplate(templateID)
	if err == nil {
		s.bumpVersion(tmpl.ExamType)
	} else {
		s.bumpVersion()
	}
	return nil
}

// ReadForExamType returns the active bundles for one exam type, or for every
// exam type when examType is empty. Templates come in insertion order,
// regions by explicit sort order, findings by insertion order.
func (s *Store) ReadForExamType(examType string) ([]TemplateBundle, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tableTemplates, "id")
	if err != nil {
		return nil, utils.WrapIfNotNil(err)
	}

	wanted := normalizeExamType(examType)
	bundles := make([]TemplateBundle, 0)
	for raw := it.Next(); raw != nil; raw = it.Next() {
		tmpl := *raw.(*report.Template)
		if tmpl.Status == report.StatusArchived {
			continue
		}
		if wanted != "" && normalizeExamType(tmpl.ExamType) != wanted {
			continue
		}

		bundle := TemplateBundle{Template: tmpl}
		bundle.Regions, err = regionsForTemplate(txn, tmpl.ID)
		if err != nil {
			return nil, utils.WrapIfNotNil(err)
		}
		bundle.Findings, err = findingsForTemplate(txn, tmpl.ID)
		if err != nil {
			return nil, utils.WrapIfNotNil(err)
		}
		bundles = append(bundles, bundle)
	}
	return bundles, nil
}

func regionsForTemplate(txn *memdb.Txn, templateID uint64) ([]report.Region, error) {
	it, err := txn.Get(tableRegions, "template_id", templateID)
	if err != nil {
		return nil, err
	}

	regions := make([]report.Region, 0)
	for raw := it.Next(); raw != nil; raw = it.Next() {
		regions = append(regions, *raw.(*report.Region))
	}
	sort.SliceStable(regions, func(i, j int) bool {
		return regions[i].SortOrder < regions[j].SortOrder
	})
	return regions, nil
}

func findingsForTemplate(txn *memdb.Txn, templateID uint64) ([]report.Finding, error) {
	it, err := txn.Get(tableFindings, "template_id", templateID)
	if err != nil {
		return nil, err
	}

	findings := make([]report.Finding, 0)
	for raw := it.Next(); raw != nil; raw = it.Next() {
		findings = append(findings, *raw.(*report.Finding))
	}
	sort.SliceStable(findings, func(i, j int) bool {
		return findings[i].ID < findings[j].ID
	})
	return findings, nil
}
