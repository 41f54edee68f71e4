package client

import (
	"context"

	"connectrpc.com/connect"

	"github.com/kazz187/taskdesk/internal/dispatch"
	"github.com/kazz187/taskdesk/internal/notification"
	"github.com/kazz187/taskdesk/pkg/connectjson"
)

func (c *Client) Inbox(ctx context.Context, unreadOnly bool, limit int) (*notification.ListNotificationsResponse, error) {
	return call[notification.ListNotificationsRequest, notification.ListNotificationsResponse](ctx, c, notification.ServiceName, "ListNotifications",
		&notification.ListNotificationsRequest{RecipientID: c.user, UnreadOnly: unreadOnly, Limit: limit})
}

func (c *Client) MarkRead(ctx context.Context, id string) (*notification.Notification, error) {
	res, err := call[notification.MarkReadRequest, notification.NotificationResponse](ctx, c, notification.ServiceName, "MarkRead",
		&notification.MarkReadRequest{ID: id, Actor: c.user})
	if err != nil {
		return nil, err
	}
	return res.Notification, nil
}

func (c *Client) Actions(ctx context.Context, notificationID string) (*dispatch.ListActionsResponse, error) {
	return call[dispatch.ListActionsRequest, dispatch.ListActionsResponse](ctx, c, dispatch.ServiceName, "ListActions",
		&dispatch.ListActionsRequest{NotificationID: notificationID})
}

// Dispatch clicks verb on a notification.
func (c *Client) Dispatch(ctx context.Context, notificationID string, verb dispatch.Verb, reason string) (*dispatch.Result, error) {
	return call[dispatch.Request, dispatch.Result](ctx, c, dispatch.ServiceName, "Dispatch",
		&dispatch.Request{NotificationID: notificationID, Actor: c.user, Verb: verb, Reason: reason})
}

// Watch streams the user's notification events to fn until ctx is cancelled
// or fn returns an error.
func (c *Client) Watch(ctx context.Context, fn func(*notification.NotificationEvent) error) error {
	client := connectjson.NewClient[notification.SubscribeNotificationsRequest, notification.NotificationEvent](
		c.httpClient, c.baseURL, notification.ServiceName, "SubscribeNotifications", c.opts...)
	stream, err := client.CallServerStream(ctx, connect.NewRequest(&notification.SubscribeNotificationsRequest{RecipientID: c.user}))
	if err != nil {
		return err
	}
	defer stream.Close()
	for stream.Receive() {
		if err := fn(stream.Msg()); err != nil {
			return err
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	return stream.Err()
}
