package dialogue

import "github.com/room4-2/ordercall/order"

// orderSummary reads the order back. The text depends on the order kind and
// whether a device is attached; other combinations get a generic line.
func orderSummary(rec *order.Record, lang Language) string {
	hasDevice := rec.HasDevice()
	deviceName := notAvailable
	if hasDevice {
		deviceName = orNotAvailable(rec.Device.Name)
	}

	switch {
	case rec.Kind == order.KindNewLine && hasDevice:
		return say(phraseSummaryNewLineDevice, lang, orNotAvailable(rec.Line.SubNumber), deviceName)
	case rec.Kind == order.KindNewLine:
		return say(phraseSummaryNewLine, lang, orNotAvailable(rec.Line.SubNumber))
	case rec.Kind == order.KindExistingLine && hasDevice:
		return say(phraseSummaryExistingLineDevice, lang, deviceName, orNotAvailable(rec.Line.Number))
	case rec.Kind == order.KindCash && hasDevice:
		return say(phraseSummaryCash, lang, deviceName)
	default:
		return say(phraseSummaryGeneric, lang)
	}
}

// financialBreakdown lists the amounts with three decimals each
func financialBreakdown(f order.Financial, lang Language) string {
	return say(phraseFinancials, lang,
		f.Monthly.String(),
		f.Advance.String(),
		f.Upfront.String(),
		f.VAT.String(),
		f.Total.String(),
	)
}
