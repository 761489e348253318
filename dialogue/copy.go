package dialogue

import "fmt"

// phrase names one line of the call script
type phrase int

const (
	phraseOpening phrase = iota
	phraseLanguageChosen
	phraseAskName
	phraseAskNationalID
	phraseVerified
	phraseOwnershipChallenge
	phraseOwnershipAccepted
	phraseProceedToEligibility
	phraseAskChange
	phraseOrderUpdated
	phraseFinancials
	phraseCommitmentCallback
	phraseAccessoriesAdded
	phraseAccessoriesDeclined
	phraseSigningLinkSent
	phraseFarewell
	phraseSummaryNewLineDevice
	phraseSummaryNewLine
	phraseSummaryExistingLineDevice
	phraseSummaryCash
	phraseSummaryGeneric
)

type copyKey struct {
	phrase   phrase
	language Language
}

const (
	openingLine = "Hello, this is Jassim speaking from Zain Bahrain, may I take a few minutes of your time. / مرحبا، معاك جاسم من زين البحرين، ممكن آخذ ثواني من وقتك"

	// languageQuestion is the context handed to the classifier when the
	// customer answers the language choice.
	languageQuestion = "Would you prefer to continue in Arabic or English? / تفضل نكمل بالعربي ولا الإنجليزي؟"

	genericSummary = "Let me confirm your order details..."

	// notAvailable stands in for a missing order field
	notAvailable = "N/A"
)

var script = map[copyKey]string{
	{phraseOpening, LanguageEnglish}: openingLine,
	{phraseOpening, LanguageArabic}:  openingLine,

	{phraseLanguageChosen, LanguageEnglish}: "Sure, we'll continue in English. Can I please have your full name?",
	{phraseLanguageChosen, LanguageArabic}:  "تمام، نكمل بالعربي. ممكن الاسم الكامل من فضلك؟",

	{phraseAskName, LanguageEnglish}: "Can I please have your full name?",
	{phraseAskName, LanguageArabic}:  "ممكن الاسم الكامل من فضلك؟",

	{phraseAskNationalID, LanguageEnglish}: "Thank you. And can I have your CPR number please?",
	{phraseAskNationalID, LanguageArabic}:  "تسلم. وممكن رقم الهوية؟",

	{phraseVerified, LanguageEnglish}: "Thank you %s, I've verified your details. Let me confirm your order details...",
	{phraseVerified, LanguageArabic}:  "مشكور %s، تأكدت من المعلومات. خلني أأكد تفاصيل طلبك...",

	{phraseOwnershipChallenge, LanguageEnglish}: "I notice the details don't match our records. Are you calling on behalf of the account holder?",
	{phraseOwnershipChallenge, LanguageArabic}:  "ألاحظ إن المعلومات ما تطابق السجلات عندنا. هل تتصل نيابة عن صاحب الحساب؟",

	{phraseOwnershipAccepted, LanguageEnglish}: "I understand. Let me confirm the order details...",
	{phraseOwnershipAccepted, LanguageArabic}:  "فهمت. خلني أأكد تفاصيل الطلب...",

	{phraseProceedToEligibility, LanguageEnglish}: "Great! Let me check your eligibility...",
	{phraseProceedToEligibility, LanguageArabic}:  "ممتاز! خلني أشيك استحقاقك...",

	{phraseAskChange, LanguageEnglish}: "I understand. What would you like to change?",
	{phraseAskChange, LanguageArabic}:  "فهمت. شنو التغيير اللي تبي تسويه؟",

	{phraseOrderUpdated, LanguageEnglish}: "Perfect, I've updated the order. Let me confirm the updated details...",
	{phraseOrderUpdated, LanguageArabic}:  "تمام، حدثت الطلب. خلني أأكد التفاصيل المحدثة...",

	{phraseFinancials, LanguageEnglish}: "Great! Let me check your eligibility. Here are the details:\n" +
		"- Monthly payment: %s Dinars\n" +
		"- Advance payment: %s Dinars\n" +
		"- Upfront payment: %s Dinars\n" +
		"- VAT: %s Dinars\n" +
		"- Total amount to pay today: %s Dinars\n\n" +
		"Does this work for you?",
	{phraseFinancials, LanguageArabic}: "ممتاز! خلني أشيك استحقاقك. هذي التفاصيل:\n" +
		"- الدفعة الشهرية: %s دينار\n" +
		"- الدفعة المقدمة: %s دينار\n" +
		"- الدفعة المسبقة: %s دينار\n" +
		"- ضريبة القيمة المضافة: %s دينار\n" +
		"- المبلغ الإجمالي للدفع اليوم: %s دينار\n\n" +
		"مناسب لك؟",

	{phraseCommitmentCallback, LanguageEnglish}: "Absolutely, I'll submit the approval request. You'll receive a callback within 24 hours. Thank you for choosing Zain, have a good day.",
	{phraseCommitmentCallback, LanguageArabic}:  "أكيد، بقدم طلب للموافقة. بيصل فيك خلال 24 ساعة. شكراً لاختيارك زين، مع السلامة.",

	{phraseAccessoriesAdded, LanguageEnglish}: "Great! I've added the accessories to your order. Now I'm sending you the digital signing link...",
	{phraseAccessoriesAdded, LanguageArabic}:  "حلو! ضفت الإكسسوارات لطلبك. الحين باعث لك رابط التوقيع الرقمي...",

	{phraseAccessoriesDeclined, LanguageEnglish}: "No problem at all. Now I'm sending you the digital signing link...",
	{phraseAccessoriesDeclined, LanguageArabic}:  "ما فيها مشكلة. الحين باعث لك رابط التوقيع الرقمي...",

	{phraseSigningLinkSent, LanguageEnglish}: "Excellent! I've sent you the digital signing and payment link via SMS. Please complete it within one hour. Thank you for choosing Zain, have a good day.",
	{phraseSigningLinkSent, LanguageArabic}:  "ممتاز! أرسلت لك رابط التوقيع الرقمي والدفع عن طريق رسالة نصية. من فضلك كمله خلال ساعة. شكراً لاختيارك زين، مع السلامة.",

	{phraseFarewell, LanguageEnglish}: "Thank you for choosing Zain, have a good day.",
	{phraseFarewell, LanguageArabic}:  "شكراً لاختيارك زين، مع السلامة.",

	{phraseSummaryNewLineDevice, LanguageEnglish}: "Let me confirm your order details. Your order is for a new line with sub-number %s and the device %s. Is this correct?",
	{phraseSummaryNewLineDevice, LanguageArabic}:  "خلني أأكد تفاصيل طلبك. طلبك لخط جديد برقم فرعي %s والجهاز %s. صح؟",

	{phraseSummaryNewLine, LanguageEnglish}: "Let me confirm your order details. Your order is for a new line only with sub-number %s. Is this correct?",
	{phraseSummaryNewLine, LanguageArabic}:  "خلني أأكد تفاصيل طلبك. طلبك لخط جديد فقط برقم فرعي %s. صح؟",

	{phraseSummaryExistingLineDevice, LanguageEnglish}: "Let me confirm your order details. Your order is for an %s under your existing number %s. Is this correct?",
	{phraseSummaryExistingLineDevice, LanguageArabic}:  "خلني أأكد تفاصيل طلبك. طلبك لـ %s على رقمك الموجود %s. صح؟",

	{phraseSummaryCash, LanguageEnglish}: "Let me confirm your order details. Your order is for an %s on a cash basis. Is this correct?",
	{phraseSummaryCash, LanguageArabic}:  "خلني أأكد تفاصيل طلبك. طلبك لـ %s على أساس كاش. صح؟",

	{phraseSummaryGeneric, LanguageEnglish}: genericSummary,
	{phraseSummaryGeneric, LanguageArabic}:  genericSummary,
}

// say renders a script line. An unset language reads the English copy.
func say(p phrase, lang Language, args ...any) string {
	if lang != LanguageArabic {
		lang = LanguageEnglish
	}
	text, ok := script[copyKey{p, lang}]
	if !ok {
		// every phrase has both languages; a gap is a programming error
		panic(fmt.Sprintf("dialogue: no copy for phrase %d in %q", p, lang))
	}
	if len(args) == 0 {
		return text
	}
	return fmt.Sprintf(text, args...)
}

func orNotAvailable(s string) string {
	if s == "" {
		return notAvailable
	}
	return s
}
