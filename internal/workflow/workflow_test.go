package workflow_test

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"questboard/internal/backend"
	"questboard/internal/backend/backendtest"
	"questboard/internal/busy"
	"questboard/internal/model"
	"questboard/internal/workflow"
)

type fixture struct {
	srv      *backendtest.Server
	client   *backend.Client
	flow     *workflow.Workflow
	campaign model.Campaign
	apps     []model.Application
}

func loggedIn(t *testing.T, srv *backendtest.Server, email string) *backend.Client {
	t.Helper()
	c, err := backend.New(srv.BaseURL())
	require.NoError(t, err)
	_, err = c.Login(context.Background(), email, "pw")
	require.NoError(t, err)
	return c
}

func newFixture(t *testing.T, paid bool) fixture {
	t.Helper()
	srv := backendtest.New(t)
	company := srv.AddAccount("guild@example.com", "pw", model.RoleCompany, paid)
	club := srv.AddAccount("robo@um.edu", "pw", model.RoleClub, false)
	other := srv.AddAccount("chess@um.edu", "pw", model.RoleClub, false)
	campaign := srv.AddCampaign(company.ID, model.Campaign{Title: "Hackathon", Budget: 5000})
	apps := []model.Application{
		srv.AddApplication(model.Application{Campaign: campaign.ID, ClubUserID: club.ID, ClubName: "Robotics"}),
		srv.AddApplication(model.Application{Campaign: campaign.ID, ClubUserID: other.ID, ClubName: "Chess"}),
	}
	c := loggedIn(t, srv, "guild@example.com")
	return fixture{srv: srv, client: c, flow: workflow.New(c), campaign: campaign, apps: apps}
}

func TestAwardPaidTierSucceedsDirectly(t *testing.T) {
	f := newFixture(t, true)
	got, err := f.flow.Award(context.Background(), f.campaign.ID, f.apps[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignInProgress, got.Status)
	assert.Equal(t, model.ApplicationAwarded, f.srv.Application(f.apps[0].ID).Status)
	assert.Equal(t, model.ApplicationNotSelected, f.srv.Application(f.apps[1].ID).Status)
	_, pending := f.flow.Pending()
	assert.False(t, pending)
}

func TestAwardPaymentDetourAwardsExactlyOnce(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	_, err := f.flow.Award(ctx, f.campaign.ID, f.apps[0].ID)
	require.ErrorIs(t, err, backend.ErrPaymentRequired)
	p, ok := f.flow.Pending()
	require.True(t, ok)
	assert.Equal(t, workflow.PendingAward{CampaignID: f.campaign.ID, ApplicationID: f.apps[0].ID}, p)

	got, err := f.flow.PayAndRetry(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignInProgress, got.Status)
	_, ok = f.flow.Pending()
	assert.False(t, ok)

	// A second payment-success callback must not award again.
	_, err = f.flow.PayAndRetry(ctx)
	assert.ErrorIs(t, err, workflow.ErrNoPendingAward)

	total, succeeded := f.srv.AwardCalls()
	assert.Equal(t, 2, total)
	assert.Equal(t, 1, succeeded)
}

func TestPayAndRetryWithoutPending(t *testing.T) {
	f := newFixture(t, false)
	_, err := f.flow.PayAndRetry(context.Background())
	assert.ErrorIs(t, err, workflow.ErrNoPendingAward)
	total, _ := f.srv.AwardCalls()
	assert.Zero(t, total)
}

func TestCancelPending(t *testing.T) {
	f := newFixture(t, false)
	_, err := f.flow.Award(context.Background(), f.campaign.ID, f.apps[1].ID)
	require.ErrorIs(t, err, backend.ErrPaymentRequired)
	f.flow.CancelPending()
	_, err = f.flow.PayAndRetry(context.Background())
	assert.ErrorIs(t, err, workflow.ErrNoPendingAward)
}

func TestRankFor(t *testing.T) {
	want := map[int]string{0: "", 1: "D", 2: "C", 3: "B", 4: "A", 5: "S"}
	for rating, rank := range want {
		got, err := workflow.RankFor(rating)
		require.NoError(t, err)
		assert.Equal(t, rank, got, "rating %d", rating)
	}
	for _, bad := range []int{-1, 6, 10} {
		_, err := workflow.RankFor(bad)
		assert.ErrorIs(t, err, workflow.ErrRating)
	}
}

func TestCompleteAfterAward(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	_, err := f.flow.Award(ctx, f.campaign.ID, f.apps[0].ID)
	require.NoError(t, err)

	report, err := f.flow.Complete(ctx, f.campaign.ID, 5, "Great work")
	require.NoError(t, err)
	require.NotNil(t, report.ReportURL)
	assert.Equal(t, model.CampaignCompleted, f.srv.Campaign(f.campaign.ID).Status)
	assert.Equal(t, model.ApplicationCompleted, f.srv.Application(f.apps[0].ID).Status)
}

func TestCompleteRejectedWhenNotInProgress(t *testing.T) {
	f := newFixture(t, true)
	_, err := f.flow.Complete(context.Background(), f.campaign.ID, 0, "")
	require.Error(t, err)
	assert.Equal(t, "Campaign must be in progress to complete.", backend.Message(err))

	_, err = f.flow.Complete(context.Background(), f.campaign.ID, 9, "")
	assert.ErrorIs(t, err, workflow.ErrRating)
}

func TestClubApplyAndDeliver(t *testing.T) {
	srv := backendtest.New(t)
	company := srv.AddAccount("guild@example.com", "pw", model.RoleCompany, true)
	srv.AddAccount("robo@um.edu", "pw", model.RoleClub, false)
	campaign := srv.AddCampaign(company.ID, model.Campaign{Title: "Workshop"})
	ctx := context.Background()

	clubFlow := workflow.New(loggedIn(t, srv, "robo@um.edu"))
	app, err := clubFlow.Apply(ctx, campaign.ID, "We can do it")
	require.NoError(t, err)
	assert.Equal(t, model.ApplicationPending, app.Status)

	_, err = clubFlow.Apply(ctx, campaign.ID, "again")
	require.Error(t, err)
	assert.Equal(t, "You have already applied.", backend.Message(err))

	_, err = clubFlow.SubmitDeliverable(ctx, app.ID, backend.File{Name: "report.pdf", Content: strings.NewReader("pdf")})
	require.Error(t, err, "pending applications cannot deliver")

	companyFlow := workflow.New(loggedIn(t, srv, "guild@example.com"))
	_, err = companyFlow.Award(ctx, campaign.ID, app.ID)
	require.NoError(t, err)

	d, err := clubFlow.SubmitDeliverable(ctx, app.ID, backend.File{Name: "report.pdf", Content: strings.NewReader("pdf")})
	require.NoError(t, err)
	assert.Equal(t, "/media/deliverables/report.pdf", d.File)
	assert.Equal(t, model.ApplicationSubmitted, srv.Application(app.ID).Status)

	_, err = clubFlow.SubmitDeliverable(ctx, app.ID, backend.File{})
	assert.ErrorIs(t, err, workflow.ErrInvalid)
}

func TestCreateCampaign(t *testing.T) {
	f := newFixture(t, true)
	c, err := f.flow.CreateCampaign(context.Background(), model.CampaignDraft{Title: "Case Study", Budget: 800})
	require.NoError(t, err)
	assert.Equal(t, model.CampaignOpen, c.Status)
	assert.NotNil(t, c.Requirements)

	_, err = f.flow.CreateCampaign(context.Background(), model.CampaignDraft{})
	assert.ErrorIs(t, err, workflow.ErrInvalid)
}

type blockingAPI struct {
	workflow.API
	entered chan struct{}
	release chan struct{}
}

func (b *blockingAPI) Apply(ctx context.Context, campaignID int64, message string) (model.Application, error) {
	b.entered <- struct{}{}
	<-b.release
	return model.Application{ID: 1, Campaign: campaignID}, nil
}

func TestBusyFlagRejectsDoubleSubmit(t *testing.T) {
	api := &blockingAPI{entered: make(chan struct{}), release: make(chan struct{})}
	flow := workflow.New(api)

	var wg sync.WaitGroup
	wg.Add(1)
	var firstErr error
	go func() {
		defer wg.Done()
		_, firstErr = flow.Apply(context.Background(), 3, "first")
	}()
	<-api.entered

	_, err := flow.Apply(context.Background(), 3, "second")
	assert.ErrorIs(t, err, busy.ErrBusy)

	close(api.release)
	wg.Wait()
	assert.NoError(t, firstErr)
}
