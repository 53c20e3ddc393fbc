package store

import (
	"context"
	"testing"
	"time"

	"lifeline-sync/internal/feed"
	"lifeline-sync/internal/models"
	"lifeline-sync/internal/repository"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupEmergencyStore(t *testing.T) (sqlmock.Sqlmock, *EmergencyStore, func()) {
	db, mock := newMockDB(t)

	logger := zap.NewNop()
	alerts := repository.NewAlertsRepository(db, nil, logger)
	requests := repository.NewBloodRequestsRepository(db, nil, logger)
	store := NewEmergencyStore(alerts, requests, nil, logger)

	return mock, store, func() { db.Close() }
}

func testLocation() *models.UserLocation {
	return &models.UserLocation{
		Latitude:  37.0,
		Longitude: -122.0,
		Timestamp: time.Now(),
	}
}

var alertColumnNames = []string{
	"id", "user_id", "alert_type", "status",
	"latitude", "longitude", "accuracy", "location_timestamp",
	"description", "created_at", "updated_at",
}

var bloodRequestColumnNames = []string{
	"id", "requester_id", "blood_type", "units_needed",
	"hospital_name", "urgency", "status",
	"latitude", "longitude", "accuracy", "location_timestamp",
	"description", "created_at", "expires_at",
}

func TestCreateAlert_Success(t *testing.T) {
	mock, store, cleanup := setupEmergencyStore(t)
	defer cleanup()

	mock.ExpectExec(`INSERT INTO emergency_alerts`).
		WithArgs(
			sqlmock.AnyArg(), "user-1", models.AlertTypeMedical, models.AlertStatusActive,
			37.0, -122.0, nil, sqlmock.AnyArg(),
			"chest pain", sqlmock.AnyArg(), sqlmock.AnyArg(),
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	alert, err := store.CreateAlert(context.Background(), "user-1", testLocation(), models.AlertTypeMedical, "chest pain")
	require.NoError(t, err)
	require.NotNil(t, alert)

	assert.NotEmpty(t, alert.ID)
	assert.Equal(t, models.AlertStatusActive, alert.Status)
	assert.Equal(t, 37.0, alert.Location.Latitude)
	assert.Equal(t, -122.0, alert.Location.Longitude)
	require.NotNil(t, alert.Description)
	assert.Equal(t, "chest pain", *alert.Description)

	// 创建成功后当前槽位与历史列表同步更新
	active := store.ActiveAlert()
	require.NotNil(t, active)
	assert.Equal(t, alert.ID, active.ID)

	alerts := store.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, alert.ID, alerts[0].ID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateAlert_NotAuthenticated(t *testing.T) {
	_, store, cleanup := setupEmergencyStore(t)
	defer cleanup()

	alert, err := store.CreateAlert(context.Background(), "", testLocation(), models.AlertTypeMedical, "")
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	assert.Nil(t, alert)
}

func TestCreateAlert_LocationUnavailable(t *testing.T) {
	_, store, cleanup := setupEmergencyStore(t)
	defer cleanup()

	alert, err := store.CreateAlert(context.Background(), "user-1", nil, models.AlertTypeMedical, "")
	assert.ErrorIs(t, err, ErrLocationUnavailable)
	assert.Nil(t, alert)
	assert.Nil(t, store.ActiveAlert())
}

func TestUpdateAlertStatus_UpdatesSlotAndList(t *testing.T) {
	mock, store, cleanup := setupEmergencyStore(t)
	defer cleanup()

	mock.ExpectExec(`INSERT INTO emergency_alerts`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	alert, err := store.CreateAlert(context.Background(), "user-1", testLocation(), models.AlertTypeMedical, "")
	require.NoError(t, err)

	now := time.Now()
	mock.ExpectExec(`UPDATE emergency_alerts`).
		WithArgs(models.AlertStatusResolved, alert.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rows := sqlmock.NewRows(alertColumnNames).
		AddRow(alert.ID, "user-1", "medical", "resolved",
			37.0, -122.0, nil, now, nil, now, now)
	mock.ExpectQuery(`SELECT`).
		WithArgs(alert.ID).
		WillReturnRows(rows)

	require.NoError(t, store.UpdateAlertStatus(context.Background(), alert.ID, models.AlertStatusResolved))

	// 槽位与历史列表在同一临界区更新，状态一致
	active := store.ActiveAlert()
	require.NotNil(t, active)
	assert.Equal(t, models.AlertStatusResolved, active.Status)

	alerts := store.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, models.AlertStatusResolved, alerts[0].Status)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateBloodRequest_Defaults(t *testing.T) {
	mock, store, cleanup := setupEmergencyStore(t)
	defer cleanup()

	mock.ExpectExec(`INSERT INTO blood_requests`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	before := time.Now()
	req, err := store.CreateBloodRequest(context.Background(), "user-1", testLocation(), CreateBloodRequestParams{
		BloodType: models.BloodOPos,
	})
	require.NoError(t, err)
	require.NotNil(t, req)

	// 未指定字段取默认值：1 单位、medium 紧急度、24 小时有效期
	assert.Equal(t, 1, req.UnitsNeeded)
	assert.Equal(t, models.UrgencyMedium, req.Urgency)
	assert.Equal(t, models.RequestStatusActive, req.Status)
	assert.WithinDuration(t, before.Add(24*time.Hour), req.ExpiresAt, 5*time.Second)

	active := store.ActiveBloodRequest()
	require.NotNil(t, active)
	assert.Equal(t, req.ID, active.ID)
}

func TestCreateBloodRequest_ExplicitExpiry(t *testing.T) {
	mock, store, cleanup := setupEmergencyStore(t)
	defer cleanup()

	mock.ExpectExec(`INSERT INTO blood_requests`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	expires := time.Now().Add(6 * time.Hour)
	req, err := store.CreateBloodRequest(context.Background(), "user-1", testLocation(), CreateBloodRequestParams{
		BloodType:   models.BloodABNeg,
		UnitsNeeded: 3,
		Urgency:     models.UrgencyCritical,
		ExpiresAt:   &expires,
	})
	require.NoError(t, err)

	assert.Equal(t, 3, req.UnitsNeeded)
	assert.Equal(t, models.UrgencyCritical, req.Urgency)
	assert.True(t, req.ExpiresAt.Equal(expires))
}

func TestFetchUserAlerts_SlotIsFirstActive(t *testing.T) {
	mock, store, cleanup := setupEmergencyStore(t)
	defer cleanup()

	now := time.Now()
	rows := sqlmock.NewRows(alertColumnNames).
		AddRow("alert-3", "user-1", "fire", "resolved",
			37.2, -122.2, nil, now, nil, now, now).
		AddRow("alert-2", "user-1", "medical", "active",
			37.1, -122.1, nil, now, nil, now, now).
		AddRow("alert-1", "user-1", "medical", "responded",
			37.0, -122.0, nil, now, nil, now, now)

	mock.ExpectQuery(`SELECT`).
		WithArgs("user-1").
		WillReturnRows(rows)

	require.NoError(t, store.FetchUserAlerts(context.Background(), "user-1"))

	alerts := store.Alerts()
	require.Len(t, alerts, 3)

	// 槽位重算为列表中第一条 active 警报
	active := store.ActiveAlert()
	require.NotNil(t, active)
	assert.Equal(t, "alert-2", active.ID)
}

func TestFetchUserAlerts_NoActiveClearsSlot(t *testing.T) {
	mock, store, cleanup := setupEmergencyStore(t)
	defer cleanup()

	now := time.Now()
	rows := sqlmock.NewRows(alertColumnNames).
		AddRow("alert-1", "user-1", "medical", "resolved",
			37.0, -122.0, nil, now, nil, now, now)

	mock.ExpectQuery(`SELECT`).
		WithArgs("user-1").
		WillReturnRows(rows)

	require.NoError(t, store.FetchUserAlerts(context.Background(), "user-1"))
	assert.Nil(t, store.ActiveAlert())
}

func TestFetchNearbyBloodRequests_RequiresLocation(t *testing.T) {
	_, store, cleanup := setupEmergencyStore(t)
	defer cleanup()

	err := store.FetchNearbyBloodRequests(context.Background(), nil)
	assert.ErrorIs(t, err, ErrLocationUnavailable)
}

func TestFetchNearbyBloodRequests_UndefinedTableDegrades(t *testing.T) {
	mock, store, cleanup := setupEmergencyStore(t)
	defer cleanup()

	// 后端缺表：降级为空结果，不算错误
	mock.ExpectQuery(`SELECT`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnError(&pq.Error{Code: "42P01"})

	require.NoError(t, store.FetchNearbyBloodRequests(context.Background(), testLocation()))
	assert.Len(t, store.BloodRequests(), 0)
}

func TestHandleAlertEvent_EchoIsIdempotent(t *testing.T) {
	mock, store, cleanup := setupEmergencyStore(t)
	defer cleanup()

	mock.ExpectExec(`INSERT INTO emergency_alerts`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	alert, err := store.CreateAlert(context.Background(), "user-1", testLocation(), models.AlertTypeMedical, "")
	require.NoError(t, err)

	// 本地写入的回声：按 id 覆盖，不产生重复记录
	store.handleAlertEvent("user-1", makeEvent(t, feed.TableAlerts, feed.EventInsert, alert, nil))

	assert.Len(t, store.Alerts(), 1)
}

func TestHandleAlertEvent_IgnoresOtherUsers(t *testing.T) {
	_, store, cleanup := setupEmergencyStore(t)
	defer cleanup()

	other := models.EmergencyAlert{
		ID:     "alert-x",
		UserID: "user-2",
		Status: models.AlertStatusActive,
	}
	store.handleAlertEvent("user-1", makeEvent(t, feed.TableAlerts, feed.EventInsert, other, nil))

	assert.Len(t, store.Alerts(), 0)
}

func TestHandleAlertEvent_UpdatePatchesSlot(t *testing.T) {
	mock, store, cleanup := setupEmergencyStore(t)
	defer cleanup()

	mock.ExpectExec(`INSERT INTO emergency_alerts`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	alert, err := store.CreateAlert(context.Background(), "user-1", testLocation(), models.AlertTypeMedical, "")
	require.NoError(t, err)

	updated := *alert
	updated.Status = models.AlertStatusResponded
	store.handleAlertEvent("user-1", makeEvent(t, feed.TableAlerts, feed.EventUpdate, updated, nil))

	active := store.ActiveAlert()
	require.NotNil(t, active)
	assert.Equal(t, models.AlertStatusResponded, active.Status)
}

func TestHandleRequestEvent_InsertActiveOnly(t *testing.T) {
	_, store, cleanup := setupEmergencyStore(t)
	defer cleanup()

	active := models.BloodRequest{
		ID:          "req-1",
		RequesterID: "user-2",
		BloodType:   models.BloodOPos,
		Status:      models.RequestStatusActive,
	}
	cancelled := models.BloodRequest{
		ID:          "req-2",
		RequesterID: "user-3",
		BloodType:   models.BloodAPos,
		Status:      models.RequestStatusCancelled,
	}

	store.handleRequestEvent(makeEvent(t, feed.TableBloodRequests, feed.EventInsert, active, nil))
	store.handleRequestEvent(makeEvent(t, feed.TableBloodRequests, feed.EventInsert, cancelled, nil))

	requests := store.BloodRequests()
	require.Len(t, requests, 1)
	assert.Equal(t, "req-1", requests[0].ID)
}

func TestHandleRequestEvent_DeleteClearsSlot(t *testing.T) {
	mock, store, cleanup := setupEmergencyStore(t)
	defer cleanup()

	mock.ExpectExec(`INSERT INTO blood_requests`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	req, err := store.CreateBloodRequest(context.Background(), "user-1", testLocation(), CreateBloodRequestParams{
		BloodType: models.BloodOPos,
	})
	require.NoError(t, err)

	// 过期清理的 delete 事件：移出列表并清空槽位
	store.handleRequestEvent(makeEvent(t, feed.TableBloodRequests, feed.EventDelete, nil, req))

	assert.Len(t, store.BloodRequests(), 0)
	assert.Nil(t, store.ActiveBloodRequest())
}

func TestSubscribe_RequiresUser(t *testing.T) {
	_, store, cleanup := setupEmergencyStore(t)
	defer cleanup()

	err := store.Subscribe(context.Background(), "")
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestSubscribe_ReceivesFeedEvents(t *testing.T) {
	db, _ := newMockDB(t)
	defer db.Close()
	mr, client := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	logger := zap.NewNop()
	publisher := feed.NewPublisher(client, "test:changes:", logger)
	subscriber := feed.NewSubscriber(client, "test:changes:", logger)

	alerts := repository.NewAlertsRepository(db, nil, logger)
	requests := repository.NewBloodRequestsRepository(db, nil, logger)
	store := NewEmergencyStore(alerts, requests, subscriber, logger)

	ctx := context.Background()
	require.NoError(t, store.Subscribe(ctx, "user-1"))
	defer store.Unsubscribe()

	// 其他客户端创建的活跃请求经由订阅进入本地列表
	req := models.BloodRequest{
		ID:          "req-remote",
		RequesterID: "user-2",
		BloodType:   models.BloodOPos,
		UnitsNeeded: 1,
		Urgency:     models.UrgencyHigh,
		Status:      models.RequestStatusActive,
		CreatedAt:   time.Now(),
		ExpiresAt:   time.Now().Add(24 * time.Hour),
	}
	require.NoError(t, publisher.Publish(ctx, feed.TableBloodRequests, feed.EventInsert, req, nil))

	require.Eventually(t, func() bool {
		return len(store.BloodRequests()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, "req-remote", store.BloodRequests()[0].ID)
}

func TestUnsubscribe_StopsDelivery(t *testing.T) {
	db, _ := newMockDB(t)
	defer db.Close()
	mr, client := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	logger := zap.NewNop()
	publisher := feed.NewPublisher(client, "test:changes:", logger)
	subscriber := feed.NewSubscriber(client, "test:changes:", logger)

	alerts := repository.NewAlertsRepository(db, nil, logger)
	requests := repository.NewBloodRequestsRepository(db, nil, logger)
	store := NewEmergencyStore(alerts, requests, subscriber, logger)

	ctx := context.Background()
	require.NoError(t, store.Subscribe(ctx, "user-1"))
	store.Unsubscribe()

	req := models.BloodRequest{
		ID:          "req-late",
		RequesterID: "user-2",
		BloodType:   models.BloodOPos,
		Status:      models.RequestStatusActive,
	}
	require.NoError(t, publisher.Publish(ctx, feed.TableBloodRequests, feed.EventInsert, req, nil))

	time.Sleep(100 * time.Millisecond)
	assert.Len(t, store.BloodRequests(), 0)

	// 重复退订为空操作
	store.Unsubscribe()
}
