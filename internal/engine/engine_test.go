package engine

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 6, 3, 14, 0, 0, 0, time.UTC)

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func aboveAlert(id string) Alert {
	return Alert{
		ID:        id,
		Symbol:    "AAPL",
		Direction: DirectionAbove,
		Threshold: d(200),
		Status:    StatusActive,
		Channel:   "expo",
		Target:    "ExponentPushToken[abc]",
	}
}

// run feeds prices to one alert at the given instants, carrying state across
// cycles, and returns how many notifications fired per cycle.
func run(t *testing.T, p Policy, alert Alert, prices []float64, at []time.Time) ([]int, State) {
	t.Helper()
	require.Len(t, at, len(prices))

	states := map[string]State{}
	fired := make([]int, len(prices))
	for i, price := range prices {
		res := p.Evaluate([]Alert{alert}, map[string]decimal.Decimal{alert.Symbol: d(price)}, states, at[i])
		fired[i] = len(res.Decisions)
		states = res.Updates
	}
	return fired, states[alert.ID]
}

func TestScenarioFirstCrossing(t *testing.T) {
	fired, st := run(t, DefaultPolicy(), aboveAlert("a1"), []float64{205}, []time.Time{t0})

	assert.Equal(t, []int{1}, fired)
	assert.True(t, st.LastConditionMet)
	assert.True(t, st.LastPrice.Equal(d(205)))
	assert.True(t, st.LastNotifiedPrice.Equal(d(205)))
	assert.Equal(t, t0, st.LastTriggeredAt)
	assert.Equal(t, t0, st.LastNotifiedAt)
}

func TestScenarioWithinCooldown(t *testing.T) {
	fired, st := run(t, DefaultPolicy(), aboveAlert("a1"),
		[]float64{205, 210},
		[]time.Time{t0, t0.Add(time.Second)})

	assert.Equal(t, []int{1, 0}, fired)
	assert.True(t, st.LastPrice.Equal(d(210)))
	assert.True(t, st.LastNotifiedPrice.Equal(d(205)), "cooldown must not move notified price")
	assert.Equal(t, t0, st.LastNotifiedAt, "cooldown must not move notified time")
}

func TestScenarioRearmAfterCooldown(t *testing.T) {
	later := t0.Add(16 * time.Minute)
	fired, st := run(t, DefaultPolicy(), aboveAlert("a1"),
		[]float64{205, 210},
		[]time.Time{t0, later})

	assert.Equal(t, []int{1, 1}, fired)
	assert.True(t, st.LastNotifiedPrice.Equal(d(210)))
	assert.Equal(t, later, st.LastNotifiedAt)
	assert.Equal(t, t0, st.LastTriggeredAt, "re-arm is not a new crossing")
}

func TestScenarioResetThenRecross(t *testing.T) {
	fired, st := run(t, DefaultPolicy(), aboveAlert("a1"),
		[]float64{205, 190, 205},
		[]time.Time{t0, t0.Add(time.Second), t0.Add(2 * time.Second)})

	assert.Equal(t, []int{1, 0, 1}, fired)
	assert.True(t, st.LastConditionMet)
	assert.Equal(t, t0.Add(2*time.Second), st.LastTriggeredAt)
}

func TestScenarioPausedNeverNotifies(t *testing.T) {
	alert := aboveAlert("a1")
	alert.Status = StatusPaused

	res := DefaultPolicy().Evaluate([]Alert{alert}, map[string]decimal.Decimal{"AAPL": d(500)}, nil, t0)

	assert.Empty(t, res.Decisions)
	assert.Empty(t, res.Updates)
	assert.Equal(t, []Skip{{AlertID: "a1", Reason: SkipInactive}}, res.Skipped)
}

func TestMissingPriceSkipsWithoutStateChange(t *testing.T) {
	prev := State{LastConditionMet: true, LastPrice: d(205)}
	res := DefaultPolicy().Evaluate([]Alert{aboveAlert("a1")}, map[string]decimal.Decimal{"MSFT": d(1)},
		map[string]State{"a1": prev}, t0)

	assert.Empty(t, res.Decisions)
	assert.NotContains(t, res.Updates, "a1")
	assert.Equal(t, []Skip{{AlertID: "a1", Reason: SkipMissingPrice}}, res.Skipped)
}

func TestRearmRequiresSignificantMove(t *testing.T) {
	later := t0.Add(20 * time.Minute)

	// 205 -> 208 is ~1.46%, below the 2% threshold.
	fired, st := run(t, DefaultPolicy(), aboveAlert("a1"), []float64{205, 208}, []time.Time{t0, later})
	assert.Equal(t, []int{1, 0}, fired)
	assert.True(t, st.LastNotifiedPrice.Equal(d(205)))

	// Exactly 2% counts.
	fired, _ = run(t, DefaultPolicy(), aboveAlert("a1"), []float64{250, 255}, []time.Time{t0, later})
	assert.Equal(t, []int{1, 1}, fired)
}

func TestRearmFiresOncePerMove(t *testing.T) {
	p := DefaultPolicy()
	fired, _ := run(t, p, aboveAlert("a1"),
		[]float64{205, 210, 210.5, 211},
		[]time.Time{t0, t0.Add(16 * time.Minute), t0.Add(32 * time.Minute), t0.Add(48 * time.Minute)})

	assert.Equal(t, []int{1, 1, 0, 0}, fired)
}

func TestResetIgnoresCooldown(t *testing.T) {
	fired, _ := run(t, DefaultPolicy(), aboveAlert("a1"),
		[]float64{201, 199, 201, 199, 201},
		[]time.Time{t0, t0.Add(time.Second), t0.Add(2 * time.Second), t0.Add(3 * time.Second), t0.Add(4 * time.Second)})

	assert.Equal(t, []int{1, 0, 1, 0, 1}, fired)
}

func TestResetKeepsNotificationBookkeeping(t *testing.T) {
	_, st := run(t, DefaultPolicy(), aboveAlert("a1"), []float64{205, 190}, []time.Time{t0, t0.Add(time.Minute)})

	assert.False(t, st.LastConditionMet)
	assert.True(t, st.LastPrice.Equal(d(190)))
	assert.True(t, st.LastNotifiedPrice.Equal(d(205)))
	assert.Equal(t, t0, st.LastNotifiedAt)
}

func TestBelowDirection(t *testing.T) {
	alert := aboveAlert("b1")
	alert.Direction = DirectionBelow
	alert.Threshold = d(100)

	fired, _ := run(t, DefaultPolicy(), alert,
		[]float64{100, 99.5, 101, 98},
		[]time.Time{t0, t0.Add(time.Minute), t0.Add(2 * time.Minute), t0.Add(3 * time.Minute)})

	// 100 is not strictly below the threshold.
	assert.Equal(t, []int{0, 1, 0, 1}, fired)
}

func TestEvaluateIsDeterministic(t *testing.T) {
	alerts := []Alert{aboveAlert("a1"), aboveAlert("a2")}
	alerts[1].Symbol = "MSFT"
	prices := map[string]decimal.Decimal{"AAPL": d(230), "MSFT": d(150)}
	states := map[string]State{
		"a1": {LastConditionMet: true, LastPrice: d(220), LastNotifiedPrice: d(220), LastNotifiedAt: t0.Add(-time.Hour)},
	}
	now := t0

	first := DefaultPolicy().Evaluate(alerts, prices, states, now)
	second := DefaultPolicy().Evaluate(alerts, prices, states, now)

	assert.Equal(t, first.Decisions, second.Decisions)
	assert.Equal(t, first.Skipped, second.Skipped)
	require.Len(t, second.Updates, len(first.Updates))
	for id, st := range first.Updates {
		assert.True(t, st.Equal(second.Updates[id]), "alert %s", id)
	}
	assert.True(t, states["a1"].LastPrice.Equal(d(220)), "inputs must not be mutated")
}

func TestDecisionCarriesRouting(t *testing.T) {
	res := DefaultPolicy().Evaluate([]Alert{aboveAlert("a1")}, map[string]decimal.Decimal{"AAPL": d(205)}, nil, t0)

	require.Len(t, res.Decisions, 1)
	dec := res.Decisions[0]
	assert.Equal(t, "a1", dec.AlertID)
	assert.Equal(t, "AAPL", dec.Symbol)
	assert.Equal(t, "expo", dec.Channel)
	assert.Equal(t, "ExponentPushToken[abc]", dec.Target)
	assert.Equal(t, KindCrossing, dec.Kind)
	assert.True(t, dec.Price.Equal(d(205)))
}

func TestZeroNotifiedPriceCountsAsMove(t *testing.T) {
	states := map[string]State{"a1": {LastConditionMet: true, LastPrice: d(205)}}
	res := DefaultPolicy().Evaluate([]Alert{aboveAlert("a1")}, map[string]decimal.Decimal{"AAPL": d(205)}, states, t0)

	require.Len(t, res.Decisions, 1)
	assert.Equal(t, KindRearm, res.Decisions[0].Kind)
}

func TestMovePct(t *testing.T) {
	assert.True(t, MovePct(d(200), d(204)).Equal(d(2)))
	assert.True(t, MovePct(d(200), d(196)).Equal(d(2)))
}

func TestAlertValidate(t *testing.T) {
	valid := Alert{Symbol: "AAPL", Direction: DirectionAbove, Threshold: decimal.NewFromInt(150), Status: StatusActive}
	require.NoError(t, valid.Validate())

	cases := map[string]func(*Alert){
		"symbol":    func(a *Alert) { a.Symbol = " " },
		"direction": func(a *Alert) { a.Direction = "sideways" },
		"threshold": func(a *Alert) { a.Threshold = decimal.Zero },
		"status":    func(a *Alert) { a.Status = "archived" },
	}
	for name, mutate := range cases {
		a := valid
		mutate(&a)
		assert.ErrorIs(t, a.Validate(), ErrInvalidAlert, name)
	}
}
