package email

// Config selects and configures the outbound sender. An empty
// PostmarkServerToken means messages are written to disk instead.
type Config struct {
	PostmarkServerToken string `env:"POSTMARK_SERVER_TOKEN"`
	From                string `env:"SENDER_EMAIL" envDefault:"billing@subsync.local"`
	ReplyTo             string `env:"SUPPORT_EMAIL"`
	TrackOpens          bool   `env:"EMAIL_TRACK_OPENS" envDefault:"true"`
}
