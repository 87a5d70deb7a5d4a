package relay

import (
	"chatgogo/matchclient/internal/config"
	"chatgogo/matchclient/internal/models"
	"chatgogo/matchclient/internal/protocol"
)

// report stores a complaint against the reporter's peer and bans the peer
// once the complaints inside the window exceed the threshold. The current
// chat is not interrupted by a ban.
func (h *Hub) report(p *participant, env protocol.Envelope) {
	var req protocol.ReportUser
	if err := env.Decode(&req); err != nil {
		h.log.Warn().Err(err).Msg("bad report_user")
		return
	}
	peer := h.peerIn(p, req.RoomID)
	if peer == nil {
		h.log.Debug().Str("room", req.RoomID).Msg("report outside an active room ignored")
		return
	}

	complaint := &models.Complaint{
		ReporterID: p.userID,
		TargetID:   peer.userID,
		RoomID:     p.room.id,
		Reason:     req.Reason,
		CreatedAt:  h.now(),
	}
	if err := h.Storage.SaveComplaint(complaint); err != nil {
		h.log.Error().Err(err).Str("room", complaint.RoomID).Msg("failed to save complaint")
		return
	}
	h.moderate(complaint)
}

func (h *Hub) moderate(c *models.Complaint) {
	since := h.now().Add(-config.ComplaintWindow)
	n, err := h.Storage.CountComplaintsAgainst(c.TargetID, since)
	if err != nil {
		h.log.Error().Err(err).Str("user", c.TargetID).Msg("complaint count failed")
		return
	}
	if n <= config.BanThresholdFrequency {
		return
	}

	if err := h.Storage.BanUser(c.TargetID, config.BanDuration); err != nil {
		h.log.Error().Err(err).Str("user", c.TargetID).Msg("ban failed")
		return
	}
	if err := h.Storage.UpdateComplaintStatus(c.ID, models.ComplaintBanned); err != nil {
		h.log.Warn().Err(err).Uint("complaint", c.ID).Msg("complaint status not updated")
	}
	h.log.Warn().Str("user", c.TargetID).Int64("complaints", n).Dur("for", config.BanDuration).Msg("user banned")
}
