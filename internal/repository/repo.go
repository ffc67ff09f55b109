package repository

import (
	"database/sql"

	pg_assessment "github.com/3eLLenKa/review-nominations/internal/repository/postgres/assessment"
	pg_external "github.com/3eLLenKa/review-nominations/internal/repository/postgres/external"
	pg_member "github.com/3eLLenKa/review-nominations/internal/repository/postgres/member"
	pg_nomination "github.com/3eLLenKa/review-nominations/internal/repository/postgres/nomination"
	pg_watermark "github.com/3eLLenKa/review-nominations/internal/repository/postgres/watermark"
)

type Repositories struct {
	Nomination *pg_nomination.NominationRepo
	External   *pg_external.ExternalRepo
	Member     *pg_member.MemberRepo
	Assessment *pg_assessment.AssessmentRepo
	Watermark  *pg_watermark.WatermarkRepo
}

func New(db *sql.DB) *Repositories {
	return &Repositories{
		Nomination: pg_nomination.New(db),
		External:   pg_external.New(db),
		Member:     pg_member.New(db),
		Assessment: pg_assessment.New(db),
		Watermark:  pg_watermark.New(db),
	}
}
