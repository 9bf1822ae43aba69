package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voltcrm/models"
)

func seedMember(t *testing.T, s *Store, sequenceID, contactID uint) *models.SequenceMember {
	t.Helper()
	member := &models.SequenceMember{
		SequenceID: sequenceID,
		ContactID:  contactID,
		OwnerID:    1,
		EnrolledAt: time.Now(),
	}
	require.NoError(t, s.CreateMember(member))
	return member
}

func TestActiveMemberNilWhenAbsent(t *testing.T) {
	s := testStore(t)

	member, err := s.ActiveMember(1, 1)
	require.NoError(t, err)
	assert.Nil(t, member)

	seeded := seedMember(t, s, 1, 1)
	member, err = s.ActiveMember(1, 1)
	require.NoError(t, err)
	require.NotNil(t, member)
	assert.Equal(t, seeded.ID, member.ID)

	// A removed enrollment no longer counts; the contact can re-enroll.
	require.NoError(t, s.RemoveMember(seeded.ID, "replied"))
	member, err = s.ActiveMember(1, 1)
	require.NoError(t, err)
	assert.Nil(t, member)
}

func TestCreateMemberActiveUniqueBackstop(t *testing.T) {
	s := testStore(t)
	seedMember(t, s, 1, 1)

	// Two runs racing past the ActiveMember check: the second insert hits
	// the partial unique index over active rows.
	err := s.CreateMember(&models.SequenceMember{
		SequenceID: 1,
		ContactID:  1,
		OwnerID:    1,
		EnrolledAt: time.Now(),
	})
	assert.ErrorIs(t, err, ErrAlreadyExists)

	// Once the active enrollment ends, the same contact can re-enroll.
	member, err := s.ActiveMember(1, 1)
	require.NoError(t, err)
	require.NotNil(t, member)
	require.NoError(t, s.RemoveMember(member.ID, "replied"))

	assert.NoError(t, s.CreateMember(&models.SequenceMember{
		SequenceID: 1,
		ContactID:  1,
		OwnerID:    1,
		EnrolledAt: time.Now(),
	}))
}

func TestAdvanceCursorGuardedOnCurrentValue(t *testing.T) {
	s := testStore(t)
	member := seedMember(t, s, 1, 1)

	advanced, err := s.AdvanceCursor(member.ID, 0)
	require.NoError(t, err)
	assert.True(t, advanced)

	// A second finisher of step 0 must not double-advance.
	advanced, err = s.AdvanceCursor(member.ID, 0)
	require.NoError(t, err)
	assert.False(t, advanced)

	got, err := s.GetMember(member.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentStepIndex)
}

func TestAdvanceCursorRequiresActiveMember(t *testing.T) {
	s := testStore(t)
	member := seedMember(t, s, 1, 1)
	require.NoError(t, s.CompleteMember(member.ID, "all steps completed"))

	advanced, err := s.AdvanceCursor(member.ID, 0)
	require.NoError(t, err)
	assert.False(t, advanced)
}

func TestCompleteMemberRecordsExitReason(t *testing.T) {
	s := testStore(t)
	member := seedMember(t, s, 1, 1)

	require.NoError(t, s.CompleteMember(member.ID, "all steps completed"))

	got, err := s.GetMember(member.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MemberStatusCompleted, got.Status)
	assert.Equal(t, "all steps completed", got.ExitReason)
}

func TestActiveMembersPageFiltersBySequence(t *testing.T) {
	s := testStore(t)
	seedMember(t, s, 1, 1)
	seedMember(t, s, 1, 2)
	seedMember(t, s, 2, 3)
	removed := seedMember(t, s, 1, 4)
	require.NoError(t, s.RemoveMember(removed.ID, "unsubscribed"))

	members, err := s.ActiveMembersPage(1, 0, 10)
	require.NoError(t, err)
	assert.Len(t, members, 2)

	// Zero means all sequences.
	members, err = s.ActiveMembersPage(0, 0, 10)
	require.NoError(t, err)
	assert.Len(t, members, 3)

	// Paging walks in id order.
	members, err = s.ActiveMembersPage(0, 1, 1)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, uint(2), members[0].ContactID)
}

func TestActiveMembersByEmail(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.DB.Create(&models.Contact{
		OwnerID: 1,
		Email:   "dana@acme-energy.example",
	}).Error)

	member := seedMember(t, s, 1, 1)

	members, err := s.ActiveMembersByEmail("Dana@Acme-Energy.example")
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, member.ID, members[0].ID)

	members, err = s.ActiveMembersByEmail("nobody@example.com")
	require.NoError(t, err)
	assert.Empty(t, members)
}
