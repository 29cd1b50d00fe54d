package types

// Event types emitted in tx results.
const (
	EventTypeAccountRegistered = "AccountRegistered"
	EventTypeAdminToggled      = "AdminToggled"
	EventTypeTournamentCreated = "TournamentCreated"
	EventTypeTournamentEnded   = "TournamentEnded"
	EventTypeTournamentPinned  = "TournamentPinned"
	EventTypeTournamentUpdated = "TournamentUpdated"
	EventTypeTournamentDeleted = "TournamentDeleted"
	EventTypeBoardCreated      = "BoardCreated"
	EventTypeMovesApplied      = "MovesApplied"
	EventTypeBoardFinalized    = "BoardFinalized"
	EventTypeRefreshRequested  = "RefreshRequested"
	EventTypeLeaderboardMerged = "LeaderboardMerged"
	EventTypeShardEmitted      = "ShardEmitted"
	EventTypeMessageDropped    = "MessageDropped"
	EventTypeBoardExpired      = "BoardExpired"
)
