package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kazz187/taskdesk/internal/approval"
	"github.com/kazz187/taskdesk/internal/assignment"
	"github.com/kazz187/taskdesk/internal/eventbus"
	"github.com/kazz187/taskdesk/internal/notification"
	"github.com/kazz187/taskdesk/internal/permission"
	"github.com/kazz187/taskdesk/internal/pool"
	"github.com/kazz187/taskdesk/internal/task"
	"github.com/kazz187/taskdesk/pkg/clog"
	"github.com/kazz187/taskdesk/pkg/keylock"
)

// Verb is what the user clicked on a notification.
type Verb string

const (
	VerbAccept  Verb = "accept"
	VerbReject  Verb = "reject"
	VerbApprove Verb = "approve"
	VerbClaim   Verb = "claim"
)

type Request struct {
	NotificationID string `json:"notification_id"`
	Actor          string `json:"actor"`
	Verb           Verb   `json:"verb"`
	Reason         string `json:"reason,omitempty"`
}

type Result struct {
	Notification *notification.Notification `json:"notification"`
	Task         *task.Task                 `json:"task,omitempty"`
	Assignment   *assignment.Assignment     `json:"assignment,omitempty"`
}

type routeKey struct {
	typ  notification.Type
	verb Verb
}

type route struct {
	marker notification.Action
	handle func(ctx context.Context, n *notification.Notification, req Request) (*assignment.Result, error)
}

// Router turns a click on a notification into exactly one engine transition
// and stamps the notification with the consumed-action marker.
type Router struct {
	notifications notification.Repository
	notifier      *notification.Notifier
	gate          *permission.Gate
	routes        map[routeKey]route
	locks         *keylock.KeyLock
}

func NewRouter(
	notifications notification.Repository,
	notifier *notification.Notifier,
	gate *permission.Gate,
	assignments *assignment.Engine,
	approvals *approval.Engine,
	pools *pool.Engine,
) *Router {
	r := &Router{
		notifications: notifications,
		notifier:      notifier,
		gate:          gate,
		locks:         keylock.New(),
	}
	r.routes = map[routeKey]route{
		{notification.TypeTaskAssigned, VerbAccept}: {notification.ActionAccepted,
			func(ctx context.Context, n *notification.Notification, req Request) (*assignment.Result, error) {
				return assignments.Accept(ctx, n.Metadata[notification.MetaAssignmentID], req.Actor)
			}},
		{notification.TypeTaskAssigned, VerbReject}: {notification.ActionRejected,
			func(ctx context.Context, n *notification.Notification, req Request) (*assignment.Result, error) {
				return assignments.Reject(ctx, n.Metadata[notification.MetaAssignmentID], req.Actor, req.Reason)
			}},
		{notification.TypeTaskRejection, VerbApprove}: {notification.ActionRejectionApproved,
			func(ctx context.Context, n *notification.Notification, req Request) (*assignment.Result, error) {
				return assignments.ApproveRejection(ctx, n.Metadata[notification.MetaAssignmentID], req.Actor)
			}},
		{notification.TypeTaskRejection, VerbReject}: {notification.ActionRejectionRejected,
			func(ctx context.Context, n *notification.Notification, req Request) (*assignment.Result, error) {
				return assignments.RejectRejection(ctx, n.Metadata[notification.MetaAssignmentID], req.Actor, req.Reason)
			}},
		{notification.TypeTaskApproval, VerbApprove}: {notification.ActionApproved,
			func(ctx context.Context, n *notification.Notification, req Request) (*assignment.Result, error) {
				return taskResult(approvals.Approve(ctx, n.RelatedID, req.Actor))
			}},
		{notification.TypeTaskApproval, VerbReject}: {notification.ActionApprovalRejected,
			func(ctx context.Context, n *notification.Notification, req Request) (*assignment.Result, error) {
				return taskResult(approvals.Reject(ctx, n.RelatedID, req.Actor, req.Reason))
			}},
		{notification.TypeTaskPoolRequest, VerbApprove}: {notification.ActionClaimApproved,
			func(ctx context.Context, n *notification.Notification, req Request) (*assignment.Result, error) {
				return pools.ApproveClaim(ctx, n.RelatedID, n.Metadata[notification.MetaClaimantID], req.Actor)
			}},
		{notification.TypeTaskPoolRequest, VerbReject}: {notification.ActionClaimRejected,
			func(ctx context.Context, n *notification.Notification, req Request) (*assignment.Result, error) {
				return pools.RejectClaim(ctx, n.RelatedID, n.Metadata[notification.MetaClaimantID], req.Actor)
			}},
		{notification.TypeTaskPoolOpen, VerbClaim}: {notification.ActionClaimRequested,
			func(ctx context.Context, n *notification.Notification, req Request) (*assignment.Result, error) {
				return pools.RequestClaim(ctx, n.RelatedID, req.Actor)
			}},
	}
	return r
}

func taskResult(t *task.Task, err error) (*assignment.Result, error) {
	if err != nil {
		return nil, err
	}
	return &assignment.Result{Task: t}, nil
}

// Verbs lists what can be done with n; empty for consumed or informational
// notifications.
func (r *Router) Verbs(n *notification.Notification) []Verb {
	if n.IsConsumed() {
		return nil
	}
	var verbs []Verb
	for _, v := range []Verb{VerbAccept, VerbApprove, VerbClaim, VerbReject} {
		if _, ok := r.routes[routeKey{n.Type, v}]; ok {
			verbs = append(verbs, v)
		}
	}
	return verbs
}

// Dispatch applies req. A notification drives at most one transition: a
// second dispatch fails with AlreadyProcessed whatever its verb. When the
// engine fails the notification is left as it was so the click can be
// retried.
func (r *Router) Dispatch(ctx context.Context, req Request) (*Result, error) {
	if req.NotificationID == "" {
		return nil, task.ValidationError("notification_id", "notification_id.required", "notification_id is required")
	}
	if req.Actor == "" {
		return nil, task.ValidationError("actor", "actor.required", "actor is required")
	}
	clog.AddActor(ctx, req.Actor)
	clog.AddAttribute(ctx, "notification_id", req.NotificationID)

	unlock := r.locks.Lock(req.NotificationID)
	defer unlock()

	n, err := r.notifications.Get(ctx, req.NotificationID)
	if err != nil {
		return nil, err
	}
	clog.AddTask(ctx, n.RelatedID)
	if n.IsConsumed() {
		return nil, consumed(n)
	}
	rt, ok := r.routes[routeKey{n.Type, req.Verb}]
	if !ok {
		return nil, task.ValidationError("verb", "verb.supported",
			fmt.Sprintf("%q is not an action of %s notifications", req.Verb, n.Type))
	}
	if err := r.authorize(ctx, n, req.Actor); err != nil {
		return nil, err
	}

	res, err := rt.handle(ctx, n, req)
	if err != nil {
		if task.IsAlreadyHandled(err) {
			// Another process may have consumed the notification while the
			// engine was running.
			if latest, getErr := r.notifications.Get(ctx, n.ID); getErr == nil && latest.IsConsumed() {
				return nil, consumed(latest)
			}
		}
		return nil, err
	}

	marked, err := notification.MarkConsumed(ctx, r.notifications, n.ID, rt.marker, req.Actor, time.Now())
	if task.KindOf(err) == task.KindAlreadyProcessed {
		// Another process stamped it first.
		return nil, err
	}
	if err != nil {
		// The transition is committed; a missing marker only leaves a stale
		// button which the engine will refuse.
		slog.ErrorContext(ctx, "failed to mark notification consumed", clog.ErrorAttributeKey, err)
		marked = n
	} else {
		r.notifier.Publish(eventbus.EventNotificationConsumed, marked)
	}
	slog.InfoContext(ctx, "notification dispatched", "verb", req.Verb, "marker", rt.marker)
	return &Result{Notification: marked, Task: res.Task, Assignment: res.Assignment}, nil
}

// authorize admits the recipient and anyone with approver standing on the
// task; engines apply their own finer checks.
func (r *Router) authorize(ctx context.Context, n *notification.Notification, actor string) error {
	if actor == n.RecipientID {
		return nil
	}
	standing, err := r.gate.ResolveApproverStanding(ctx, n.RelatedID, actor)
	if err != nil {
		return err
	}
	if !standing.IsApprover() {
		return task.NotAuthorized("%s may not act on notification %s", actor, n.ID)
	}
	return nil
}

func consumed(n *notification.Notification) error {
	return task.AlreadyProcessed("notification %s was already handled (%s by %s)", n.ID, n.Action, n.ActedBy)
}
