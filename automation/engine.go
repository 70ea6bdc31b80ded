package automation

import (
	"academy/models"
	"academy/rules"
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Action report statuses.
const (
	StatusCompleted = "completed"
	StatusNoop      = "noop"
	StatusSkipped   = "skipped"
	StatusFailed    = "failed"
)

const maxTagLength = 255

type GrantRequest struct {
	UserID    uint
	Tag       string
	Value     *string
	GrantedBy uint
}

// ActionReport is one line of the per-action summary returned to the caller.
type ActionReport struct {
	Action string `json:"action"`
	Target string `json:"target,omitempty"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// GrantResult is the structured summary of one tag grant. Flags that do not
// apply to the resolved rule stay false.
type GrantResult struct {
	Success                bool            `json:"success"`
	Message                string          `json:"message"`
	RequestID              string          `json:"requestId"`
	Tag                    *models.UserTag `json:"tag"`
	TagCreated             bool            `json:"tagCreated"`
	Automation             string          `json:"automation"`
	CoursesEnrolled        []string        `json:"coursesEnrolled"`
	CoursesAlreadyEnrolled []string        `json:"coursesAlreadyEnrolled"`
	CoursesNotFound        []string        `json:"coursesNotFound"`
	EmailSent              bool            `json:"emailSent"`
	LifecyclePromoted      bool            `json:"lifecyclePromoted"`
	MiniDiplomaGranted     bool            `json:"miniDiplomaGranted"`
	NurtureEnrolled        bool            `json:"nurtureEnrolled"`
	DfyPurchaseCreated     bool            `json:"dfyPurchaseCreated"`
	DfyPurchaseID          uint            `json:"dfyPurchaseId,omitempty"`
	WelcomeEmailSent       bool            `json:"welcomeEmailSent"`
	StaffNotified          bool            `json:"staffNotified"`
	SequencesEnrolled      []string        `json:"sequencesEnrolled"`
	Actions                []ActionReport  `json:"actions"`

	// Pending holds the best-effort notifications planned by the required
	// phase, so they can be re-run through RunNotifications.
	Pending []Notification `json:"-"`
	notes   []string
}

func (r *GrantResult) report(action, target, status string, err error) {
	rep := ActionReport{Action: action, Target: target, Status: status}
	if err != nil {
		rep.Error = err.Error()
	}
	r.Actions = append(r.Actions, rep)
}

func (r *GrantResult) note(format string, args ...any) {
	r.notes = append(r.notes, fmt.Sprintf(format, args...))
}

// Settings carries the engine's tunables.
type Settings struct {
	AppBaseURL        string
	BundleConcurrency int
}

// Engine turns a tag grant into its side effects. Required effects (tag,
// enrollments, purchase, special access) run first; notifications run after
// them and never undo them.
type Engine struct {
	db          *gorm.DB
	registry    *rules.Registry
	tags        *TagStore
	enroller    *EnrollmentExecutor
	promoter    *LifecyclePromoter
	sequences   *SequenceScheduler
	fulfillment *FulfillmentHandler
	miniDiploma *MiniDiplomaHandler
	dispatcher  *Dispatcher
	log         *zap.Logger
	settings    Settings
}

// Components are the collaborators an Engine is assembled from.
type Components struct {
	Tags        *TagStore
	Enroller    *EnrollmentExecutor
	Promoter    *LifecyclePromoter
	Sequences   *SequenceScheduler
	Fulfillment *FulfillmentHandler
	MiniDiploma *MiniDiplomaHandler
	Dispatcher  *Dispatcher
}

func NewEngine(db *gorm.DB, registry *rules.Registry, c Components, log *zap.Logger, settings Settings) *Engine {
	if settings.BundleConcurrency < 1 {
		settings.BundleConcurrency = 1
	}
	settings.AppBaseURL = strings.TrimRight(settings.AppBaseURL, "/")
	return &Engine{
		db:          db,
		registry:    registry,
		tags:        c.Tags,
		enroller:    c.Enroller,
		promoter:    c.Promoter,
		sequences:   c.Sequences,
		fulfillment: c.Fulfillment,
		miniDiploma: c.MiniDiploma,
		dispatcher:  c.Dispatcher,
		log:         log,
		settings:    settings,
	}
}

func (e *Engine) Tags() *TagStore               { return e.tags }
func (e *Engine) Registry() *rules.Registry     { return e.registry }
func (e *Engine) Sequences() *SequenceScheduler { return e.sequences }

// GrantTag records the tag and runs every action it resolves to. A strict
// tag that already exists returns ErrTagExists with no side effects. A hard
// failure returns the partial result together with an ACTION_FAILED error, and
// a strict tag recorded by that grant is removed again so it can be retried.
func (e *Engine) GrantTag(ctx context.Context, req GrantRequest) (*GrantResult, error) {
	result := &GrantResult{
		RequestID:              uuid.NewString(),
		Automation:             "none",
		CoursesEnrolled:        []string{},
		CoursesAlreadyEnrolled: []string{},
		CoursesNotFound:        []string{},
		SequencesEnrolled:      []string{},
		Actions:                []ActionReport{},
	}
	log := e.log.With(zap.String("request_id", result.RequestID), zap.Uint("user_id", req.UserID))

	tag := rules.Normalize(req.Tag)
	if req.UserID == 0 || tag == "" {
		return result, newError(ErrInvalidGrant, "userId and tag are required", nil, nil)
	}
	if utf8.RuneCountInString(tag) > maxTagLength {
		return result, newError(ErrInvalidGrant, fmt.Sprintf("tag must be at most %d characters", maxTagLength), nil, nil)
	}

	user, err := e.loadUser(ctx, req.UserID)
	if err != nil {
		return result, err
	}

	res := e.registry.Resolve(req.Tag)
	if res.Matched() {
		result.Automation = res.Rule
	}

	row, created, err := e.tags.Record(ctx, user.ID, req.Tag, req.Value, res.Class())
	result.Tag = row
	result.TagCreated = created
	if err != nil {
		if IsTagExists(err) {
			log.Info("strict tag already present", zap.String("tag", tag))
		}
		return result, err
	}
	result.report("record_tag", tag, statusFor(created), nil)

	if !res.Matched() {
		result.Success = true
		result.Message = fmt.Sprintf("Tag %q recorded. No automation triggered.", tag)
		log.Info("tag recorded without automation", zap.String("tag", tag))
		return result, nil
	}

	log.Info("tag resolved",
		zap.String("tag", tag), zap.String("rule", res.Rule),
		zap.String("stage", string(res.Stage)), zap.String("class", string(res.Class())))

	if err := e.runRequired(ctx, log, *user, res, req, result); err != nil {
		if created && res.Class() == rules.ClassStrict {
			e.releaseTag(ctx, log, row, result)
		}
		result.Message = composeMessage(result)
		log.Error("tag grant failed", zap.String("tag", tag), zap.String("action", FailedAction(err)), zap.Error(err))
		return result, err
	}

	e.runBestEffort(ctx, result)

	result.Success = true
	result.Message = composeMessage(result)
	return result, nil
}

// releaseTag removes a strict tag this grant recorded before a required
// action failed, so the same grant can be retried. Writes that did succeed
// stay and are no-ops on the retry.
func (e *Engine) releaseTag(ctx context.Context, log *zap.Logger, row *models.UserTag, result *GrantResult) {
	if _, err := e.tags.Delete(ctx, row.ID); err != nil {
		log.Error("failed to release tag after failed grant", zap.String("tag", row.Tag), zap.Error(err))
		result.report("release_tag", row.Tag, StatusFailed, err)
		return
	}
	result.TagCreated = false
	result.report("release_tag", row.Tag, StatusCompleted, nil)
}

func (e *Engine) loadUser(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	err := e.db.WithContext(ctx).Where("id = ? AND is_deleted = ?", id, false).First(&user).Error
	if err == gorm.ErrRecordNotFound {
		return nil, newError(ErrUserNotFound, fmt.Sprintf("user %d not found", id), nil, nil)
	}
	if err != nil {
		return nil, actionFailed("load_user", fmt.Sprint(id), err)
	}
	return &user, nil
}

// runRequired executes the resolved actions in order and stops at the first
// hard failure. Enrollments made before the failure still count toward
// promotion.
func (e *Engine) runRequired(ctx context.Context, log *zap.Logger, user models.User, res rules.Resolution, req GrantRequest, result *GrantResult) error {
	var newlyEnrolled []string
	var hardErr error

actions:
	for _, action := range res.Actions {
		switch action.Type {
		case rules.ActionEnrollCourse, rules.ActionEnrollBundle:
			created, err := e.enroll(ctx, user, action, result)
			newlyEnrolled = append(newlyEnrolled, created...)
			if err != nil {
				hardErr = err
				break actions
			}

		case rules.ActionEnrollSequence:
			e.enrollSequence(ctx, user.ID, *action.Sequence, result)

		case rules.ActionGrantSpecial:
			out, ns, err := e.miniDiploma.Grant(ctx, user, action, req.Value)
			if err != nil {
				result.report("grant_mini_diploma", action.Category, StatusFailed, err)
				hardErr = err
				break actions
			}
			result.MiniDiplomaGranted = true
			result.report("grant_mini_diploma", out.Category, statusFor(out.FirstOptin), nil)
			if out.CompanionError != "" {
				result.report("companion_tags", out.CompanionError, StatusFailed, fmt.Errorf("companion tag not recorded"))
			} else {
				result.report("companion_tags", strings.Join(out.CompanionTags, ","), statusFor(out.NewCompanions > 0), nil)
			}
			switch {
			case action.Sequence == nil:
			case out.NurtureError != "":
				result.report("enroll_sequence", action.Sequence.String(), StatusFailed, fmt.Errorf("%s", out.NurtureError))
			case !out.Nurture.Found:
				result.report("enroll_sequence", action.Sequence.String(), StatusSkipped, fmt.Errorf("no active sequence"))
			default:
				result.NurtureEnrolled = out.Nurture.Enrolled
				if out.Nurture.Enrolled {
					result.SequencesEnrolled = append(result.SequencesEnrolled, out.Nurture.SequenceSlug)
				}
				result.report("enroll_sequence", out.Nurture.SequenceSlug, statusFor(out.Nurture.Enrolled), nil)
			}
			if out.FirstOptin {
				result.note("Mini-diploma access granted (%s)", out.Category)
			} else {
				result.note("Mini-diploma access re-applied (%s)", out.Category)
			}
			if result.NurtureEnrolled {
				result.note("nurture sequence started")
			}
			result.Pending = append(result.Pending, ns...)

		case rules.ActionStartFulfillment:
			out, ns, err := e.fulfillment.Persist(ctx, user, *action.Product, res.Canonical, res.Tag, req.GrantedBy)
			if err != nil {
				result.report(FailedAction(err), action.Product.Slug, StatusFailed, err)
				hardErr = err
				break actions
			}
			result.DfyPurchaseCreated = out.Created
			result.DfyPurchaseID = out.PurchaseID
			result.report("create_dfy_purchase", out.ProductSlug, statusFor(out.Created), nil)
			if out.AssignedToID == nil {
				result.report("assign_staff", out.ProductSlug, StatusSkipped, fmt.Errorf("no assignee available"))
			} else {
				result.report("assign_staff", fmt.Sprint(*out.AssignedToID), StatusCompleted, nil)
			}
			result.report("record_canonical_tag", out.CanonicalTag, statusFor(out.CanonicalTagCreated), nil)
			if out.Created {
				result.note("Done-for-you purchase created for %s", out.ProductName)
			} else {
				result.note("Done-for-you purchase already exists for %s", out.ProductName)
			}
			result.Pending = append(result.Pending, ns...)
		}
	}

	if len(newlyEnrolled) > 0 {
		promoted, err := e.promoter.MaybePromote(ctx, user.ID, newlyEnrolled)
		switch {
		case err != nil:
			log.Error("lifecycle promotion failed", zap.Error(err))
			result.report("promote_lifecycle", models.StageStudent, StatusFailed, err)
		case promoted:
			result.LifecyclePromoted = true
			result.report("promote_lifecycle", models.StageStudent, StatusCompleted, nil)
		}
	}
	return hardErr
}

// enroll runs one course or bundle action and plans its enrollment email.
// It returns the slugs newly enrolled by this action.
func (e *Engine) enroll(ctx context.Context, user models.User, action rules.Action, result *GrantResult) ([]string, error) {
	slugs := action.CourseSlugs()
	outcomes, err := e.enroller.EnrollMany(ctx, user.ID, slugs, e.settings.BundleConcurrency)

	var created, names, already, missing []string
	for i, out := range outcomes {
		slug := slugs[i]
		switch {
		case out.Error != "":
			result.report("enroll_course", slug, StatusFailed, fmt.Errorf("%s", out.Error))
		case out.Created():
			created = append(created, out.Slug)
			names = append(names, courseLabel(out))
			result.CoursesEnrolled = append(result.CoursesEnrolled, out.Slug)
			result.report("enroll_course", out.Slug, StatusCompleted, warning(out.Warning))
		case out.AlreadyEnrolled:
			already = append(already, courseLabel(out))
			result.CoursesAlreadyEnrolled = append(result.CoursesAlreadyEnrolled, out.Slug)
			result.report("enroll_course", out.Slug, StatusNoop, nil)
		default:
			missing = append(missing, slug)
			result.CoursesNotFound = append(result.CoursesNotFound, slug)
			result.report("enroll_course", slug, StatusSkipped, fmt.Errorf("course not found"))
		}
	}

	if len(created) > 0 {
		result.note("Enrolled in %d course(s): %s", len(created), strings.Join(names, ", "))
	}
	if len(already) > 0 {
		result.note("User is already enrolled in %s", strings.Join(already, ", "))
	}
	if len(missing) > 0 {
		result.note("Not in catalog: %s", strings.Join(missing, ", "))
	}

	if len(created) > 0 {
		subject, html := enrollmentEmail(user.Name, names, action.EmailVariant, e.settings.AppBaseURL+"/dashboard")
		result.Pending = append(result.Pending, Notification{
			Kind:      KindEnrollmentEmail,
			Channel:   models.ChannelEmail,
			UserID:    user.ID,
			To:        user.Email,
			ToName:    user.Name,
			Subject:   subject,
			HTML:      html,
			DedupeKey: fmt.Sprintf("enrollment:%d:%s", user.ID, strings.Join(created, ",")),
			Metadata:  map[string]any{"courses": created, "variant": action.EmailVariant},
		})
	}
	return created, err
}

func (e *Engine) enrollSequence(ctx context.Context, userID uint, sel rules.SequenceSelector, result *GrantResult) {
	out, err := e.sequences.EnrollInSequence(ctx, userID, sel)
	switch {
	case err != nil:
		e.log.Error("sequence enrollment failed", zap.Uint("user_id", userID), zap.String("selector", sel.String()), zap.Error(err))
		result.report("enroll_sequence", sel.String(), StatusFailed, err)
	case !out.Found:
		result.report("enroll_sequence", sel.String(), StatusSkipped, fmt.Errorf("no active sequence"))
	default:
		if out.Enrolled {
			result.SequencesEnrolled = append(result.SequencesEnrolled, out.SequenceSlug)
		}
		result.report("enroll_sequence", out.SequenceSlug, statusFor(out.Enrolled), nil)
	}
}

// runBestEffort dispatches the planned notifications and folds the outcome
// into the result flags. A flag is true only when every notification of its
// kind went out on this call; dedupe hits are reported as skipped.
func (e *Engine) runBestEffort(ctx context.Context, result *GrantResult) {
	if len(result.Pending) == 0 {
		return
	}
	outcomes := e.RunNotifications(ctx, result.Pending)

	sent := make(map[string]bool, len(outcomes))
	for i, n := range result.Pending {
		delivery := NotDelivered
		if i < len(outcomes) {
			delivery = outcomes[i]
		}
		if prev, seen := sent[n.Kind]; seen {
			sent[n.Kind] = prev && delivery == Delivered
		} else {
			sent[n.Kind] = delivery == Delivered
		}

		target := n.To
		if n.Channel == models.ChannelDM {
			target = fmt.Sprint(n.Recipient)
		}
		switch delivery {
		case Delivered:
			result.report("send_"+n.Kind, target, StatusCompleted, nil)
		case AlreadyDelivered:
			result.report("send_"+n.Kind, target, StatusSkipped, fmt.Errorf("already sent"))
		default:
			result.report("send_"+n.Kind, target, StatusFailed, fmt.Errorf("not delivered"))
		}
	}

	result.EmailSent = sent[KindEnrollmentEmail] || sent[KindMiniDiplomaEmail]
	result.WelcomeEmailSent = sent[KindDfyWelcomeEmail]
	result.StaffNotified = sent[KindDfyStaffMessage]
}

// RunNotifications dispatches notifications independently of the required
// phase. It never returns an error.
func (e *Engine) RunNotifications(ctx context.Context, ns []Notification) []Delivery {
	if e.dispatcher == nil {
		return make([]Delivery, len(ns))
	}
	return e.dispatcher.DispatchAll(ctx, ns)
}

// RecordRegistrySnapshot stores the loaded rule set once per checksum.
func (e *Engine) RecordRegistrySnapshot(ctx context.Context) error {
	doc, err := e.registry.JSON()
	if err != nil {
		return err
	}
	return e.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.RuleRegistrySnapshot{
			Version:   e.registry.Version(),
			Checksum:  e.registry.Checksum(),
			Rules:     datatypes.JSON(doc),
			CreatedAt: time.Now().UTC(),
		}).Error
}

func composeMessage(result *GrantResult) string {
	if len(result.notes) == 0 {
		if result.Tag != nil {
			return fmt.Sprintf("Tag %q recorded.", result.Tag.Tag)
		}
		return "Tag recorded."
	}
	msg := strings.Join(result.notes, ". ") + "."
	if result.LifecyclePromoted {
		msg += " Promoted to student."
	}
	return msg
}

func courseLabel(out EnrollOutcome) string {
	if out.CourseName != "" {
		return out.CourseName
	}
	return out.Slug
}

func statusFor(changed bool) string {
	if changed {
		return StatusCompleted
	}
	return StatusNoop
}

func warning(text string) error {
	if text == "" {
		return nil
	}
	return fmt.Errorf("%s", text)
}
