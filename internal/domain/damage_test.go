package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeDiminishingReturns(t *testing.T) {
	require.Zero(t, Normalize(0, 20))
	require.Zero(t, Normalize(-5, 20))
	require.Zero(t, Normalize(10, 0))

	small := Normalize(20, 20)
	double := Normalize(40, 20)
	require.Greater(t, double, small)
	require.Less(t, double, 2*small, "doubling input past k must less than double the output")

	// No hard ceiling: truly extreme input still grows.
	require.Greater(t, Normalize(1e9, 20), Normalize(1e6, 20))
}

func TestDamageIsDeterministic(t *testing.T) {
	p := StandardProfile()
	c := ActivityCounter{
		Messages:     45,
		VoiceMinutes: 120,
		Wager:        15_000,
		Net:          4_200,
		TokensSpent:  60,
		RitualDone:   true,
	}
	first := p.Damage(c)
	require.Greater(t, first, 0.0)
	for i := 0; i < 100; i++ {
		require.Equal(t, first, p.Damage(c))
	}
}

func TestDamageSingleDayScenario(t *testing.T) {
	p := StandardProfile()
	c := ActivityCounter{
		Messages:     1,
		VoiceMinutes: 45,
		Wager:        1000,
		Net:          500,
		TokensSpent:  10,
		RitualDone:   true,
	}

	// 260*ln(1.4) + 160 + 110*ln(1.05) + 95*ln(1.05) + 80*ln(1.05) + 80*ln(2.5)
	require.InDelta(t, 334.691, p.Damage(c), 0.01)
	require.Equal(t, 2+3+1+1+1, p.Devotion(c))
}

func TestDamageLossesNeverSubtract(t *testing.T) {
	p := StandardProfile()
	base := ActivityCounter{Messages: 10}
	losing := base
	losing.Net = -50_000

	require.Equal(t, p.Damage(base), p.Damage(losing))
}

func TestDamageDecayedVoiceReducedWeight(t *testing.T) {
	p := StandardProfile()

	fresh := ActivityCounter{VoiceMinutes: 100}
	decayed := ActivityCounter{DecayedVoiceMinutes: 100}

	require.InDelta(t, 35.0, p.EffectiveVoiceMinutes(decayed), 0.0001)
	require.Greater(t, p.Damage(fresh), p.Damage(decayed))
	require.Greater(t, p.Damage(decayed), 0.0)
}

func TestCappedProfileCapsInputs(t *testing.T) {
	capped := CappedProfile()
	atCap := ActivityCounter{Messages: 30, VoiceMinutes: 60, Wager: 20_000}
	beyond := ActivityCounter{Messages: 300, VoiceMinutes: 600, Wager: 200_000}

	require.Equal(t, capped.Damage(atCap), capped.Damage(beyond))

	standard := StandardProfile()
	require.Greater(t, standard.Damage(beyond), standard.Damage(atCap))
}

func TestCappedProfileParticipationBonus(t *testing.T) {
	capped := CappedProfile()
	withoutBonus := capped
	withoutBonus.ParticipationBonus = 0

	c := ActivityCounter{Messages: 5, TokensSpent: 10, RitualDone: true}
	devotion := capped.Devotion(c)
	require.Equal(t, 1+2+3, devotion)
	require.InDelta(t, withoutBonus.Damage(c)+10*float64(devotion), capped.Damage(c), 0.0001)
}

func TestDevotionThresholds(t *testing.T) {
	p := StandardProfile()

	require.Zero(t, p.Devotion(ActivityCounter{}))

	require.Equal(t, 0, p.Devotion(ActivityCounter{VoiceMinutes: 9}))
	require.Equal(t, 1, p.Devotion(ActivityCounter{VoiceMinutes: 10}))

	require.Equal(t, 0, p.Devotion(ActivityCounter{Wager: 999}))
	require.Equal(t, 1, p.Devotion(ActivityCounter{Wager: 1000}))

	full := ActivityCounter{
		Messages:     1,
		VoiceMinutes: 10,
		Wager:        1000,
		TokensSpent:  1,
		RitualDone:   true,
	}
	require.Equal(t, 8, p.Devotion(full))
}

func TestDevotionCountsDecayedVoice(t *testing.T) {
	p := StandardProfile()
	// 30 decayed minutes at 0.35 weight is 10.5 effective minutes.
	require.Equal(t, 1, p.Devotion(ActivityCounter{DecayedVoiceMinutes: 30}))
	require.Equal(t, 0, p.Devotion(ActivityCounter{DecayedVoiceMinutes: 28}))
}
