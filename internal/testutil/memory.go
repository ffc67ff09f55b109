package testutil

import (
	"context"
	"database/sql/driver"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/3eLLenKa/review-nominations/internal/domain"
)

// Memory is an in-memory stand-in for every postgres repository. Joined reads
// can be made to fail with a connection error to force the per-entity tier.
type Memory struct {
	mu sync.Mutex

	Members     map[string]domain.Member
	Externals   map[string]domain.ExternalReviewer
	Cohorts     map[string]domain.Cohort
	Assessments map[string]domain.Assessment
	PAs         map[string]domain.ParticipantAssessment
	Nominations map[string]domain.NominationRecord
	Watermarks  map[string]domain.Watermark

	FailJoined   bool
	FailEntities bool
}

func NewMemory() *Memory {
	return &Memory{
		Members:     make(map[string]domain.Member),
		Externals:   make(map[string]domain.ExternalReviewer),
		Cohorts:     make(map[string]domain.Cohort),
		Assessments: make(map[string]domain.Assessment),
		PAs:         make(map[string]domain.ParticipantAssessment),
		Nominations: make(map[string]domain.NominationRecord),
		Watermarks:  make(map[string]domain.Watermark),
	}
}

func (m *Memory) SetFailJoined(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FailJoined = v
}

func (m *Memory) joinedErr() error {
	if m.FailJoined {
		return driver.ErrBadConn
	}
	return nil
}

func (m *Memory) entityErr() error {
	if m.FailEntities {
		return driver.ErrBadConn
	}
	return nil
}

// Seeding helpers.

func (m *Memory) AddMember(mem domain.Member) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Members[mem.ID] = mem
}

func (m *Memory) AddExternal(er domain.ExternalReviewer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if er.ReviewStatus == "" {
		er.ReviewStatus = domain.ReviewNotStarted
	}
	m.Externals[er.ID] = er
}

func (m *Memory) RemoveExternal(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Externals, id)
}

// AddAssessment seeds a cohort, an assessment and one participant attempt.
func (m *Memory) AddAssessment(clientID, cohortID, cohortName, assessmentID, assessmentName string, pa domain.ParticipantAssessment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Cohorts[cohortID] = domain.Cohort{ID: cohortID, ClientID: clientID, Name: cohortName}
	m.Assessments[assessmentID] = domain.Assessment{ID: assessmentID, CohortID: cohortID, Name: assessmentName}
	pa.AssessmentID = assessmentID
	if pa.Status == "" {
		pa.Status = domain.AssessmentNotStarted
	}
	m.PAs[pa.ID] = pa
}

func (m *Memory) AddNomination(rec domain.NominationRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.RequestStatus == "" {
		rec.RequestStatus = domain.RequestPending
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}
	m.Nominations[rec.ID] = rec
}

func (m *Memory) Record(id string) domain.NominationRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Nominations[id]
}

func (m *Memory) External(id string) domain.ExternalReviewer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Externals[id]
}

// Nomination reads.

func (m *Memory) build(rec domain.NominationRecord) domain.Nomination {
	var ext *domain.ExternalReviewer
	if rec.IsExternal && rec.ExternalReviewerID != nil {
		if er, ok := m.Externals[*rec.ExternalReviewerID]; ok {
			ext = &er
		}
	}
	return domain.BuildNomination(rec, ext)
}

func (m *Memory) records(keep func(domain.NominationRecord) bool) []domain.NominationRecord {
	out := make([]domain.NominationRecord, 0)
	for _, rec := range m.Nominations {
		if keep(rec) {
			out = append(out, rec)
		}
	}
	// Map order is random; callers must not rely on it.
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func (m *Memory) joined(keep func(domain.NominationRecord) bool, less func(a, b domain.Nomination) bool) []domain.Nomination {
	out := make([]domain.Nomination, 0)
	for _, rec := range m.records(keep) {
		out = append(out, m.build(rec))
	}
	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

func chronological(a, b domain.Nomination) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func (m *Memory) clientOf(paID string) string {
	pa, ok := m.PAs[paID]
	if !ok {
		return ""
	}
	a, ok := m.Assessments[pa.AssessmentID]
	if !ok {
		return ""
	}
	return m.Cohorts[a.CohortID].ClientID
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func (m *Memory) JoinedByID(ctx context.Context, id string) (domain.Nomination, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.joinedErr(); err != nil {
		return domain.Nomination{}, err
	}
	rec, ok := m.Nominations[id]
	if !ok {
		return domain.Nomination{}, domain.ErrNominationNotFound
	}
	return m.build(rec), nil
}

func (m *Memory) JoinedByParticipantAssessments(ctx context.Context, ids []string) ([]domain.Nomination, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.joinedErr(); err != nil {
		return nil, err
	}
	return m.joined(func(r domain.NominationRecord) bool { return contains(ids, r.ParticipantAssessmentID) }, chronological), nil
}

func (m *Memory) JoinedByReviewer(ctx context.Context, reviewerID string, isExternal bool) ([]domain.Nomination, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.joinedErr(); err != nil {
		return nil, err
	}
	return m.joined(byReviewer(reviewerID, isExternal), chronological), nil
}

func byReviewer(reviewerID string, isExternal bool) func(domain.NominationRecord) bool {
	return func(r domain.NominationRecord) bool {
		if r.IsExternal != isExternal {
			return false
		}
		if isExternal {
			return deref(r.ExternalReviewerID) == reviewerID
		}
		return deref(r.ReviewerID) == reviewerID
	}
}

func (m *Memory) JoinedByExternalReviewers(ctx context.Context, externalIDs []string) ([]domain.Nomination, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.joinedErr(); err != nil {
		return nil, err
	}
	return m.joined(func(r domain.NominationRecord) bool {
		return r.IsExternal && contains(externalIDs, deref(r.ExternalReviewerID))
	}, chronological), nil
}

func (m *Memory) JoinedByNominator(ctx context.Context, nominatorID string) ([]domain.Nomination, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.joinedErr(); err != nil {
		return nil, err
	}
	return m.joined(func(r domain.NominationRecord) bool { return r.NominatedByID == nominatorID }, chronological), nil
}

func (m *Memory) JoinedRecentForClient(ctx context.Context, clientID string, limit int) ([]domain.Nomination, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.joinedErr(); err != nil {
		return nil, err
	}
	list := m.joined(func(r domain.NominationRecord) bool { return m.clientOf(r.ParticipantAssessmentID) == clientID },
		func(a, b domain.Nomination) bool { return chronological(b, a) })
	return limited(list, limit), nil
}

func (m *Memory) JoinedRecentReviewActivity(ctx context.Context, clientID string, limit int) ([]domain.Nomination, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.joinedErr(); err != nil {
		return nil, err
	}
	list := m.joined(func(r domain.NominationRecord) bool {
		if m.clientOf(r.ParticipantAssessmentID) != clientID || r.RequestStatus != domain.RequestAccepted {
			return false
		}
		s := m.build(r).Review.Status()
		return s == domain.ReviewInProgress || s == domain.ReviewCompleted
	}, func(a, b domain.Nomination) bool {
		at, bt := a.ReviewActivityAt(), b.ReviewActivityAt()
		if !at.Equal(bt) {
			return at.After(bt)
		}
		return a.ID > b.ID
	})
	return limited(list, limit), nil
}

func limited[T any](list []T, limit int) []T {
	if len(list) > limit {
		return list[:limit]
	}
	return list
}

func (m *Memory) RecordByID(ctx context.Context, id string) (domain.NominationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.entityErr(); err != nil {
		return domain.NominationRecord{}, err
	}
	rec, ok := m.Nominations[id]
	if !ok {
		return domain.NominationRecord{}, domain.ErrNominationNotFound
	}
	return rec, nil
}

func (m *Memory) RecordsByParticipantAssessments(ctx context.Context, ids []string) ([]domain.NominationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.entityErr(); err != nil {
		return nil, err
	}
	return m.records(func(r domain.NominationRecord) bool { return contains(ids, r.ParticipantAssessmentID) }), nil
}

func (m *Memory) RecordsByReviewer(ctx context.Context, reviewerID string, isExternal bool) ([]domain.NominationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.entityErr(); err != nil {
		return nil, err
	}
	return m.records(byReviewer(reviewerID, isExternal)), nil
}

func (m *Memory) RecordsByExternalReviewers(ctx context.Context, externalIDs []string) ([]domain.NominationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.entityErr(); err != nil {
		return nil, err
	}
	return m.records(func(r domain.NominationRecord) bool {
		return r.IsExternal && contains(externalIDs, deref(r.ExternalReviewerID))
	}), nil
}

func (m *Memory) RecordsByNominator(ctx context.Context, nominatorID string) ([]domain.NominationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.entityErr(); err != nil {
		return nil, err
	}
	return m.records(func(r domain.NominationRecord) bool { return r.NominatedByID == nominatorID }), nil
}

// Nomination writes, with the same conditions as the SQL updates.

func (m *Memory) Create(ctx context.Context, rec domain.NominationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.entityErr(); err != nil {
		return err
	}
	rec.UpdatedAt = rec.CreatedAt
	m.Nominations[rec.ID] = rec
	return nil
}

func (m *Memory) missOrConflict(id string) error {
	if _, ok := m.Nominations[id]; !ok {
		return domain.ErrNominationNotFound
	}
	return domain.ErrInvalidTransition
}

func (m *Memory) Decide(ctx context.Context, id string, decision domain.RequestStatus, at time.Time) (domain.NominationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.entityErr(); err != nil {
		return domain.NominationRecord{}, err
	}
	rec, ok := m.Nominations[id]
	if !ok || rec.RequestStatus != domain.RequestPending {
		return domain.NominationRecord{}, m.missOrConflict(id)
	}
	rec.RequestStatus = decision
	rec.RespondedAt = &at
	rec.UpdatedAt = at
	m.Nominations[id] = rec
	return rec, nil
}

func (m *Memory) SetOwnReviewStatus(ctx context.Context, id string, from, to domain.ReviewStatus, at time.Time) (domain.NominationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.entityErr(); err != nil {
		return domain.NominationRecord{}, err
	}
	rec, ok := m.Nominations[id]
	if !ok || rec.RequestStatus != domain.RequestAccepted || domain.ParseReviewStatus(rec.ReviewStatus) != from {
		return domain.NominationRecord{}, m.missOrConflict(id)
	}
	s := string(to)
	rec.ReviewStatus = &s
	rec.ReviewUpdatedAt = &at
	rec.UpdatedAt = at
	if to == domain.ReviewCompleted {
		rec.ReviewSubmittedAt = &at
	}
	m.Nominations[id] = rec
	return rec, nil
}

func (m *Memory) SetExternalReviewStatus(ctx context.Context, id, externalID string, from, to domain.ReviewStatus, at time.Time) (domain.NominationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.entityErr(); err != nil {
		return domain.NominationRecord{}, err
	}
	rec, ok := m.Nominations[id]
	if !ok || !rec.IsExternal || deref(rec.ExternalReviewerID) != externalID || rec.RequestStatus != domain.RequestAccepted {
		return domain.NominationRecord{}, m.missOrConflict(id)
	}
	er, ok := m.Externals[externalID]
	if !ok || er.ReviewStatus != from {
		return domain.NominationRecord{}, domain.ErrInvalidTransition
	}

	er.ReviewStatus = to
	er.ReviewUpdatedAt = &at
	m.Externals[externalID] = er

	rec.UpdatedAt = at
	if to == domain.ReviewCompleted {
		rec.ReviewSubmittedAt = &at
	}
	m.Nominations[id] = rec
	return rec, nil
}

// Members.

func (m *Memory) GetMemberById(ctx context.Context, id string) (*domain.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.entityErr(); err != nil {
		return nil, err
	}
	mem, ok := m.Members[id]
	if !ok {
		return nil, domain.ErrMemberNotFound
	}
	return &mem, nil
}

func (m *Memory) ListMembersByIds(ctx context.Context, ids []string) ([]domain.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.entityErr(); err != nil {
		return nil, err
	}
	out := make([]domain.Member, 0, len(ids))
	for _, id := range ids {
		if mem, ok := m.Members[id]; ok {
			out = append(out, mem)
		}
	}
	return out, nil
}

// External reviewers.

func (m *Memory) GetExternalById(ctx context.Context, id string) (*domain.ExternalReviewer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.entityErr(); err != nil {
		return nil, err
	}
	er, ok := m.Externals[id]
	if !ok {
		return nil, domain.ErrReviewerNotFound
	}
	return &er, nil
}

func (m *Memory) ListExternalByIds(ctx context.Context, ids []string) ([]domain.ExternalReviewer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.entityErr(); err != nil {
		return nil, err
	}
	out := make([]domain.ExternalReviewer, 0, len(ids))
	for _, id := range ids {
		if er, ok := m.Externals[id]; ok {
			out = append(out, er)
		}
	}
	return out, nil
}

func (m *Memory) ListExternalByEmail(ctx context.Context, clientID, email string) ([]domain.ExternalReviewer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.entityErr(); err != nil {
		return nil, err
	}
	out := make([]domain.ExternalReviewer, 0)
	for _, er := range m.Externals {
		if (clientID == "" || er.ClientID == clientID) && strings.EqualFold(er.Email, email) {
			out = append(out, er)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CreateExternal keeps one reviewer per client and case-folded email, like
// the unique index in postgres.
func (m *Memory) CreateExternal(ctx context.Context, er domain.ExternalReviewer) (domain.ExternalReviewer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.entityErr(); err != nil {
		return domain.ExternalReviewer{}, err
	}
	for _, existing := range m.Externals {
		if existing.ClientID == er.ClientID && strings.EqualFold(existing.Email, er.Email) {
			return existing, nil
		}
	}
	m.Externals[er.ID] = er
	return er, nil
}

// Assessments.

func (m *Memory) JoinedRecentProgress(ctx context.Context, clientID string, limit int) ([]domain.ParticipantAssessment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.joinedErr(); err != nil {
		return nil, err
	}
	out := make([]domain.ParticipantAssessment, 0)
	for _, pa := range m.PAs {
		if m.clientOf(pa.ID) == clientID && (pa.Status == domain.AssessmentInProgress || pa.Status == domain.AssessmentCompleted) {
			out = append(out, pa)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return limited(out, limit), nil
}

func (m *Memory) JoinedContexts(ctx context.Context, participantAssessmentIDs []string) ([]domain.AssessmentContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.joinedErr(); err != nil {
		return nil, err
	}
	out := make([]domain.AssessmentContext, 0)
	for _, id := range participantAssessmentIDs {
		pa, ok := m.PAs[id]
		if !ok {
			continue
		}
		a, ok := m.Assessments[pa.AssessmentID]
		if !ok {
			continue
		}
		c, ok := m.Cohorts[a.CohortID]
		if !ok {
			continue
		}
		out = append(out, domain.AssessmentContext{
			ParticipantAssessmentID: pa.ID,
			ParticipantID:           pa.ParticipantID,
			AssessmentName:          a.Name,
			CohortName:              c.Name,
			ClientID:                c.ClientID,
		})
	}
	return out, nil
}

func (m *Memory) ListCohortsByClient(ctx context.Context, clientID string) ([]domain.Cohort, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.entityErr(); err != nil {
		return nil, err
	}
	out := make([]domain.Cohort, 0)
	for _, c := range m.Cohorts {
		if c.ClientID == clientID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *Memory) ListCohortsByIds(ctx context.Context, ids []string) ([]domain.Cohort, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.entityErr(); err != nil {
		return nil, err
	}
	out := make([]domain.Cohort, 0)
	for _, id := range ids {
		if c, ok := m.Cohorts[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *Memory) ListAssessmentsByCohorts(ctx context.Context, cohortIDs []string) ([]domain.Assessment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.entityErr(); err != nil {
		return nil, err
	}
	out := make([]domain.Assessment, 0)
	for _, a := range m.Assessments {
		if contains(cohortIDs, a.CohortID) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *Memory) ListAssessmentsByIds(ctx context.Context, ids []string) ([]domain.Assessment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.entityErr(); err != nil {
		return nil, err
	}
	out := make([]domain.Assessment, 0)
	for _, id := range ids {
		if a, ok := m.Assessments[id]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *Memory) ListParticipantAssessmentsByAssessments(ctx context.Context, assessmentIDs []string) ([]domain.ParticipantAssessment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.entityErr(); err != nil {
		return nil, err
	}
	out := make([]domain.ParticipantAssessment, 0)
	for _, pa := range m.PAs {
		if contains(assessmentIDs, pa.AssessmentID) {
			out = append(out, pa)
		}
	}
	return out, nil
}

func (m *Memory) ListParticipantAssessmentsByIds(ctx context.Context, ids []string) ([]domain.ParticipantAssessment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.entityErr(); err != nil {
		return nil, err
	}
	out := make([]domain.ParticipantAssessment, 0)
	for _, id := range ids {
		if pa, ok := m.PAs[id]; ok {
			out = append(out, pa)
		}
	}
	return out, nil
}

// Watermarks.

func (m *Memory) Ensure(ctx context.Context, userID string, now time.Time) (domain.Watermark, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.entityErr(); err != nil {
		return domain.Watermark{}, err
	}
	w, ok := m.Watermarks[userID]
	if !ok {
		w = domain.Watermark{UserID: userID, SessionStart: now}
		m.Watermarks[userID] = w
	}
	return w, nil
}

func (m *Memory) ResetSession(ctx context.Context, userID string, now time.Time) (domain.Watermark, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.entityErr(); err != nil {
		return domain.Watermark{}, err
	}
	w := domain.Watermark{UserID: userID, SessionStart: now}
	m.Watermarks[userID] = w
	return w, nil
}

func (m *Memory) MarkChecked(ctx context.Context, userID string, now time.Time) (domain.Watermark, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.entityErr(); err != nil {
		return domain.Watermark{}, err
	}
	w, ok := m.Watermarks[userID]
	if !ok {
		w = domain.Watermark{UserID: userID, SessionStart: now}
	}
	w.LastChecked = &now
	m.Watermarks[userID] = w
	return w, nil
}
