package cel

// ConditionExamples are sample routing conditions printed by `rules examples`.
var ConditionExamples = map[string]string{
	"urgent":            `priority == 'urgent' or contains(subject, 'URGENT')`,
	"support":           `has_keyword('help') or has_keyword('support')`,
	"billing":           `sender_domain == 'billing.example.com' or contains(subject, 'invoice')`,
	"pdf_attachments":   `has_attachment_type('application/pdf')`,
	"large_attachments": `total_attachment_size > 10485760`,
	"after_hours":       `is_after_hours and not is_weekend`,
	"vip_senders":       `matches_pattern(sender, '*@vip.example.com')`,
	"mass_mail":         `total_recipients > 20`,
	"internal":          `is_internal and starts_with(subject, '[internal]')`,
	"header_flag":       `'X-Route' in headers and headers['X-Route'] == 'ops'`,
	"reply":             `starts_with(subject, 're:') and ends_with(sender_domain, '.example.com')`,
}
