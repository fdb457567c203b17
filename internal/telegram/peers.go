package telegram

import (
	"github.com/gotd/td/tg"

	"telegramdump/internal/models"
)

// Dialog IDs are "marked": users keep their ID, basic groups are negated and
// channels (including supergroups) are shifted below -1e12.
const channelShift = 1000000000000

func markUser(id int64) int64    { return id }
func markChat(id int64) int64    { return -id }
func markChannel(id int64) int64 { return -(channelShift + id) }

// MarkPeer returns the marked dialog ID of p.
func MarkPeer(p tg.PeerClass) int64 {
	switch p := p.(type) {
	case *tg.PeerUser:
		return markUser(p.UserID)
	case *tg.PeerChat:
		return markChat(p.ChatID)
	case *tg.PeerChannel:
		return markChannel(p.ChannelID)
	}
	return 0
}

// UnmarkPeer splits a marked dialog ID into its entity kind and bare ID.
func UnmarkPeer(id int64) (models.EntityKind, int64) {
	switch {
	case id > 0:
		return models.EntityUser, id
	case id < -channelShift:
		return models.EntityChannel, -id - channelShift
	default:
		return models.EntityGroup, -id
	}
}

// peer is a resolved dialog: enough to address it and to name it.
type peer struct {
	input  tg.InputPeerClass
	entity models.Entity
}

// peersFrom indexes the users and chats of a response by marked ID.
func peersFrom(users []tg.UserClass, chats []tg.ChatClass) map[int64]peer {
	out := make(map[int64]peer, len(users)+len(chats))
	for _, u := range users {
		user, ok := u.(*tg.User)
		if !ok {
			continue
		}
		id := markUser(user.ID)
		out[id] = peer{
			input: &tg.InputPeerUser{UserID: user.ID, AccessHash: user.AccessHash},
			entity: models.Entity{
				ID:        id,
				Kind:      models.EntityUser,
				Username:  user.Username,
				FirstName: user.FirstName,
				LastName:  user.LastName,
			},
		}
	}
	for _, c := range chats {
		switch chat := c.(type) {
		case *tg.Chat:
			id := markChat(chat.ID)
			out[id] = peer{
				input:  &tg.InputPeerChat{ChatID: chat.ID},
				entity: models.Entity{ID: id, Kind: models.EntityGroup, Title: chat.Title},
			}
		case *tg.ChatForbidden:
			id := markChat(chat.ID)
			out[id] = peer{
				input:  &tg.InputPeerChat{ChatID: chat.ID},
				entity: models.Entity{ID: id, Kind: models.EntityGroup, Title: chat.Title},
			}
		case *tg.Channel:
			id := markChannel(chat.ID)
			kind := models.EntityChannel
			if chat.Megagroup {
				kind = models.EntityGroup
			}
			out[id] = peer{
				input:  &tg.InputPeerChannel{ChannelID: chat.ID, AccessHash: chat.AccessHash},
				entity: models.Entity{ID: id, Kind: kind, Username: chat.Username, Title: chat.Title},
			}
		case *tg.ChannelForbidden:
			id := markChannel(chat.ID)
			out[id] = peer{
				input:  &tg.InputPeerChannel{ChannelID: chat.ID, AccessHash: chat.AccessHash},
				entity: models.Entity{ID: id, Kind: models.EntityChannel, Title: chat.Title},
			}
		}
	}
	return out
}
