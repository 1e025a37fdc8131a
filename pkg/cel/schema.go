package cel

import (
	"github.com/google/cel-go/cel"
)

// Attribute names available to rule conditions.
const (
	AttrSubject             = "subject"
	AttrSender              = "sender"
	AttrSenderDomain        = "sender_domain"
	AttrRecipients          = "recipients"
	AttrCCRecipients        = "cc_recipients"
	AttrBCCRecipients       = "bcc_recipients"
	AttrBodyText            = "body_text"
	AttrBodyHTML            = "body_html"
	AttrMessageID           = "message_id"
	AttrPriority            = "priority"
	AttrHeaders             = "headers"
	AttrReceivedDate        = "received_date"
	AttrSentDate            = "sent_date"
	AttrRecipientCount      = "recipient_count"
	AttrCCCount             = "cc_count"
	AttrBCCCount            = "bcc_count"
	AttrTotalRecipients     = "total_recipients"
	AttrHasAttachments      = "has_attachments"
	AttrAttachmentCount     = "attachment_count"
	AttrAttachmentFilenames = "attachment_filenames"
	AttrAttachmentTypes     = "attachment_types"
	AttrTotalAttachmentSize = "total_attachment_size"
	AttrSubjectLength       = "subject_length"
	AttrBodyLength          = "body_length"
	AttrHasHTMLBody         = "has_html_body"
	AttrReceivedHour        = "received_hour"
	AttrReceivedDayOfWeek   = "received_day_of_week"
	AttrIsWeekend           = "is_weekend"
	AttrIsBusinessHours     = "is_business_hours"
	AttrIsAfterHours        = "is_after_hours"
	AttrIsGmail             = "is_gmail"
	AttrIsOutlook           = "is_outlook"
	AttrIsInternal          = "is_internal"
	AttrExtra               = "attrs"
)

var stringList = cel.ListType(cel.StringType)

// Schema is the closed set of variables a condition may reference.
var Schema = map[string]*cel.Type{
	AttrSubject:             cel.StringType,
	AttrSender:              cel.StringType,
	AttrSenderDomain:        cel.StringType,
	AttrRecipients:          stringList,
	AttrCCRecipients:        stringList,
	AttrBCCRecipients:       stringList,
	AttrBodyText:            cel.StringType,
	AttrBodyHTML:            cel.StringType,
	AttrMessageID:           cel.StringType,
	AttrPriority:            cel.StringType,
	AttrHeaders:             cel.MapType(cel.StringType, cel.StringType),
	AttrReceivedDate:        cel.TimestampType,
	AttrSentDate:            cel.TimestampType,
	AttrRecipientCount:      cel.IntType,
	AttrCCCount:             cel.IntType,
	AttrBCCCount:            cel.IntType,
	AttrTotalRecipients:     cel.IntType,
	AttrHasAttachments:      cel.BoolType,
	AttrAttachmentCount:     cel.IntType,
	AttrAttachmentFilenames: stringList,
	AttrAttachmentTypes:     stringList,
	AttrTotalAttachmentSize: cel.IntType,
	AttrSubjectLength:       cel.IntType,
	AttrBodyLength:          cel.IntType,
	AttrHasHTMLBody:         cel.BoolType,
	AttrReceivedHour:        cel.IntType,
	AttrReceivedDayOfWeek:   cel.IntType,
	AttrIsWeekend:           cel.BoolType,
	AttrIsBusinessHours:     cel.BoolType,
	AttrIsAfterHours:        cel.BoolType,
	AttrIsGmail:             cel.BoolType,
	AttrIsOutlook:           cel.BoolType,
	AttrIsInternal:          cel.BoolType,
	AttrExtra:               cel.MapType(cel.StringType, cel.DynType),
}

func variables() []cel.EnvOption {
	opts := make([]cel.EnvOption, 0, len(Schema))
	for name, t := range Schema {
		opts = append(opts, cel.Variable(name, t))
	}
	return opts
}
