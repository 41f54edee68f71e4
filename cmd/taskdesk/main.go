package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/fatih/color"

	"github.com/kazz187/taskdesk/internal/assignment"
	"github.com/kazz187/taskdesk/internal/client"
	"github.com/kazz187/taskdesk/internal/dispatch"
	"github.com/kazz187/taskdesk/internal/notification"
	"github.com/kazz187/taskdesk/internal/task"
)

var (
	app = kingpin.New("taskdesk", "Assign, review and approve tasks from the terminal")

	serverURL = app.Flag("server", "taskdesk server URL").Envar("TASKDESK_SERVER").Default("http://localhost:3200").String()
	apiKey    = app.Flag("api-key", "API key").Envar("TASKDESK_API_KEY").String()
	user      = app.Flag("user", "Act as this user").Envar("TASKDESK_USER").Required().String()

	createCmd      = app.Command("create", "Create a task")
	createTitle    = createCmd.Arg("title", "Task title").Required().String()
	createDesc     = createCmd.Flag("description", "Task description").Short('d').String()
	createPriority = createCmd.Flag("priority", "Priority").Default("0").Int()
	createDue      = createCmd.Flag("due", "Due date (YYYY-MM-DD)").String()
	createDelegate = createCmd.Flag("delegate", "Route approval to team leads").Bool()

	showCmd = app.Command("show", "Show a task and its assignments")
	showID  = showCmd.Arg("id", "Task ID").Required().String()

	listCmd    = app.Command("list", "List tasks")
	listStatus = listCmd.Flag("status", "Work status filter").Enum("", "pending", "in_progress", "completed")
	listPooled = listCmd.Flag("pooled", "Only pooled tasks").Bool()
	listMine   = listCmd.Flag("mine", "Only tasks I created").Bool()

	assignCmd  = app.Command("assign", "Assign a task")
	assignTask = assignCmd.Arg("task", "Task ID").Required().String()
	assignUser = assignCmd.Arg("user", "Assignee").Required().String()

	acceptCmd = app.Command("accept", "Accept an assignment")
	acceptID  = acceptCmd.Arg("assignment", "Assignment ID").Required().String()

	rejectCmd    = app.Command("reject", "Refuse an assignment")
	rejectID     = rejectCmd.Arg("assignment", "Assignment ID").Required().String()
	rejectReason = rejectCmd.Arg("reason", "Why (at least 20 characters)").Required().String()

	approveRejectionCmd = app.Command("approve-rejection", "Accept a worker's refusal")
	approveRejectionID  = approveRejectionCmd.Arg("assignment", "Assignment ID").Required().String()

	rejectRejectionCmd    = app.Command("reject-rejection", "Send a refused assignment back to the worker")
	rejectRejectionID     = rejectRejectionCmd.Arg("assignment", "Assignment ID").Required().String()
	rejectRejectionReason = rejectRejectionCmd.Arg("reason", "Why (at least 20 characters)").Required().String()

	completeCmd = app.Command("complete", "Complete an assignment")
	completeID  = completeCmd.Arg("assignment", "Assignment ID").Required().String()

	claimCmd  = app.Command("claim", "Claim a pooled task")
	claimTask = claimCmd.Arg("task", "Task ID").Required().String()

	approveClaimCmd  = app.Command("approve-claim", "Grant a pooled task to a claimant")
	approveClaimTask = approveClaimCmd.Arg("task", "Task ID").Required().String()
	approveClaimUser = approveClaimCmd.Arg("claimant", "Claimant").Required().String()

	rejectClaimCmd  = app.Command("reject-claim", "Turn down a claim")
	rejectClaimTask = rejectClaimCmd.Arg("task", "Task ID").Required().String()
	rejectClaimUser = rejectClaimCmd.Arg("claimant", "Claimant").Required().String()

	returnCmd        = app.Command("return-to-pool", "Open a task for claims")
	returnTask       = returnCmd.Arg("task", "Task ID").Required().String()
	returnCandidates = returnCmd.Arg("candidates", "Who may claim (default anyone)").Strings()

	requestApprovalCmd  = app.Command("request-approval", "Ask for approval of completed work")
	requestApprovalTask = requestApprovalCmd.Arg("task", "Task ID").Required().String()

	approveCmd  = app.Command("approve", "Approve completed work")
	approveTask = approveCmd.Arg("task", "Task ID").Required().String()

	declineCmd    = app.Command("decline", "Send completed work back")
	declineTask   = declineCmd.Arg("task", "Task ID").Required().String()
	declineReason = declineCmd.Arg("reason", "Why").String()

	inboxCmd    = app.Command("inbox", "List notifications")
	inboxUnread = inboxCmd.Flag("unread", "Only unread").Bool()
	inboxLimit  = inboxCmd.Flag("limit", "Maximum entries").Default("20").Int()

	readCmd = app.Command("read", "Mark a notification read")
	readID  = readCmd.Arg("notification", "Notification ID").Required().String()

	actCmd    = app.Command("act", "Act on a notification")
	actID     = actCmd.Arg("notification", "Notification ID").Required().String()
	actVerb   = actCmd.Arg("verb", "accept, reject, approve or claim").Required().Enum("accept", "reject", "approve", "claim")
	actReason = actCmd.Arg("reason", "Reason, when rejecting").String()

	watchCmd = app.Command("watch", "Stream notifications as they arrive")
)

var (
	bold   = color.New(color.Bold).SprintFunc()
	dim    = color.New(color.Faint).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
)

func main() {
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := client.New(strings.TrimSuffix(*serverURL, "/"), *apiKey, *user)
	if err := run(ctx, c, command); err != nil {
		if task.IsAlreadyHandled(err) {
			fmt.Fprintln(os.Stderr, yellow("someone already handled this: ")+err.Error())
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, red("error: ")+err.Error())
		os.Exit(1)
	}
}

func run(ctx context.Context, c *client.Client, command string) error {
	switch command {
	case createCmd.FullCommand():
		req := &task.CreateTaskRequest{
			Title:            *createTitle,
			Description:      *createDesc,
			Priority:         *createPriority,
			DelegateApproval: *createDelegate,
		}
		if *createDue != "" {
			due, err := time.ParseInLocation(time.DateOnly, *createDue, time.Local)
			if err != nil {
				return fmt.Errorf("invalid --due: %w", err)
			}
			req.DueDate = &due
		}
		t, err := c.CreateTask(ctx, req)
		if err != nil {
			return err
		}
		fmt.Printf("%s %s\n", green("created"), t.ID)
		return nil

	case showCmd.FullCommand():
		t, err := c.GetTask(ctx, *showID)
		if err != nil {
			return err
		}
		assignments, err := c.ListAssignments(ctx, t.ID)
		if err != nil {
			return err
		}
		printTask(t)
		for _, a := range assignments {
			printAssignment(a)
		}
		return nil

	case listCmd.FullCommand():
		req := &task.ListTasksRequest{WorkStatus: task.WorkStatus(*listStatus), PooledOnly: *listPooled}
		if *listMine {
			req.CreatedBy = c.User()
		}
		res, err := c.ListTasks(ctx, req)
		if err != nil {
			return err
		}
		for _, t := range res.Tasks {
			fmt.Printf("%s  %-11s %-8s %s\n", dim(t.ID), t.WorkStatus, t.ApprovalStatus, t.Title)
		}
		fmt.Println(dim(fmt.Sprintf("%d of %d", len(res.Tasks), res.Total)))
		return nil

	case assignCmd.FullCommand():
		return printResult(c.Assign(ctx, *assignTask, *assignUser))
	case acceptCmd.FullCommand():
		return printResult(c.Act(ctx, "Accept", *acceptID, ""))
	case rejectCmd.FullCommand():
		return printResult(c.Act(ctx, "Reject", *rejectID, *rejectReason))
	case approveRejectionCmd.FullCommand():
		return printResult(c.Act(ctx, "ApproveRejection", *approveRejectionID, ""))
	case rejectRejectionCmd.FullCommand():
		return printResult(c.Act(ctx, "RejectRejection", *rejectRejectionID, *rejectRejectionReason))
	case completeCmd.FullCommand():
		return printResult(c.Act(ctx, "Complete", *completeID, ""))

	case claimCmd.FullCommand():
		return printResult(c.RequestClaim(ctx, *claimTask))
	case approveClaimCmd.FullCommand():
		return printResult(c.ApproveClaim(ctx, *approveClaimTask, *approveClaimUser))
	case rejectClaimCmd.FullCommand():
		return printResult(c.RejectClaim(ctx, *rejectClaimTask, *rejectClaimUser))
	case returnCmd.FullCommand():
		return printResult(c.ReturnToPool(ctx, *returnTask, *returnCandidates))

	case requestApprovalCmd.FullCommand():
		return printTaskResult(c.RequestApproval(ctx, *requestApprovalTask))
	case approveCmd.FullCommand():
		return printTaskResult(c.Approve(ctx, *approveTask))
	case declineCmd.FullCommand():
		return printTaskResult(c.Decline(ctx, *declineTask, *declineReason))

	case inboxCmd.FullCommand():
		res, err := c.Inbox(ctx, *inboxUnread, *inboxLimit)
		if err != nil {
			return err
		}
		for _, n := range res.Notifications {
			printNotification(n)
		}
		fmt.Println(dim(fmt.Sprintf("%d of %d", len(res.Notifications), res.Total)))
		return nil

	case readCmd.FullCommand():
		n, err := c.MarkRead(ctx, *readID)
		if err != nil {
			return err
		}
		printNotification(n)
		return nil

	case actCmd.FullCommand():
		res, err := c.Dispatch(ctx, *actID, dispatch.Verb(*actVerb), *actReason)
		if err != nil {
			return err
		}
		fmt.Printf("%s %s\n", green(string(res.Notification.Action)), res.Notification.ID)
		if res.Task != nil {
			printTask(res.Task)
		}
		if res.Assignment != nil {
			printAssignment(res.Assignment)
		}
		return nil

	case watchCmd.FullCommand():
		fmt.Println(dim("watching notifications for " + c.User() + " (ctrl-c to stop)"))
		return c.Watch(ctx, func(e *notification.NotificationEvent) error {
			fmt.Printf("%s %s ", dim(e.Event.CreatedAt.Local().Format(time.TimeOnly)), cyan(string(e.Event.Type)))
			if e.Notification != nil {
				printNotification(e.Notification)
			} else {
				fmt.Println(e.Event.ResourceID)
			}
			return nil
		})
	}
	return fmt.Errorf("unknown command %q", command)
}

func printResult(res *assignment.Result, err error) error {
	if err != nil {
		return err
	}
	if res.Task != nil {
		printTask(res.Task)
	}
	if res.Assignment != nil {
		printAssignment(res.Assignment)
	}
	return nil
}

func printTaskResult(t *task.Task, err error) error {
	if err != nil {
		return err
	}
	printTask(t)
	return nil
}

func printTask(t *task.Task) {
	fmt.Printf("%s %s\n", bold(t.Title), dim(t.ID))
	fmt.Printf("  work: %s  approval: %s  priority: %d  created by: %s\n", t.WorkStatus, t.ApprovalStatus, t.Priority, t.CreatedBy)
	if t.DueDate != nil {
		fmt.Printf("  due: %s\n", t.DueDate.Format(time.DateOnly))
	}
	if t.IsPooled {
		fmt.Printf("  %s claims: %s\n", yellow("pooled"), strings.Join(t.PoolClaims, ", "))
	}
	if t.RejectionReason != "" {
		fmt.Printf("  sent back: %s\n", t.RejectionReason)
	}
}

func printAssignment(a *assignment.Assignment) {
	status := string(a.Status)
	switch a.Status {
	case assignment.StatusAccepted, assignment.StatusCompleted:
		status = green(status)
	case assignment.StatusRejected, assignment.StatusRejectionPendingApproval:
		status = red(status)
	}
	fmt.Printf("  assignment %s  %s  %s\n", dim(a.ID), a.AssignedTo, status)
	if a.RejectionReason != "" {
		fmt.Printf("    reason: %s\n", a.RejectionReason)
	}
}

func printNotification(n *notification.Notification) {
	marker := cyan("*")
	if n.Read {
		marker = " "
	}
	state := yellow("open")
	if n.IsConsumed() {
		state = dim(string(n.Action) + " by " + n.ActedBy)
	}
	fmt.Printf("%s %s %-24s task %s  %s\n", marker, dim(n.ID), n.Type, n.RelatedID, state)
}
