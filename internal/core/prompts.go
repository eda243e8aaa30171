package core

// prompts.go defines the canned replies of the intake conversation and the
// instruction sent to the diagnosis oracle.  Keeping them together makes them
// easy to tweak without touching the state machine.

const (
	// GreetingTemplate opens a session.  The placeholder is the patient's
	// name.
	GreetingTemplate = "Hello %s! I'm your health assistant. I'm here to help analyze your symptoms and provide medical guidance. " +
		"Please describe what symptoms you're experiencing, and when you're done, just type \"done\"."

	AckPain     = "I understand you're experiencing pain. Can you describe where the pain is located and how severe it is on a scale of 1-10?"
	AckFever    = "Fever can be a sign of infection. Have you measured your temperature? Any other symptoms accompanying the fever?"
	AckHeadache = "Headaches can have various causes. Is it a constant ache or throbbing? Any visual changes or nausea?"
	AckCough    = "I've noted your cough. Is it dry or are you bringing up any phlegm? How long have you had this cough?"

	NoSymptomsMessage = "I haven't recorded any symptoms yet. Please describe what you're experiencing first."
	AnalyzeTooEarly   = "I'm still collecting your symptoms. Type \"done\" when you've described everything, then answer a few short questions."

	FollowUpIntro          = "Thank you for describing your symptoms. Now I need some additional information:"
	MedicationsQuestion    = "1. Are you currently taking any medications or pills?"
	DurationQuestion       = "2. How long have you been experiencing these symptoms?"
	ConditionsQuestion     = "3. Do you have any existing medical conditions?"
	FollowUpAck            = "Thank you for that information. This helps me provide a more accurate analysis."
	ReadyToAnalyze         = "Thanks, that's everything I need. Type \"analyze\" when you're ready for your diagnosis."
	AdditionalInfoAck      = "I've added that to your notes. Type \"analyze\" when you're ready for your diagnosis."
	FollowUpDoneReminder   = "You've already finished describing your symptoms. Please answer the question above."
	AnalyzingMessage       = "Analyzing your symptoms... Please wait."
	AnalysisBusyMessage    = "I'm still analyzing your symptoms. Please wait for the result before sending \"analyze\" again."
	WaitForAnalysisMessage = "I've noted your message. Your analysis is still running, please wait a moment."
	AnalysisComplete       = "Analysis complete! I've identified several possible conditions. You can view the detailed diagnosis or book an appointment."

	CredentialMissingMessage = "I can't reach the diagnosis service because no API key is configured. Please provide an API key and type \"analyze\" again."
	OracleUnavailableMessage = "Sorry, the diagnosis service is not reachable right now. Please try \"analyze\" again in a moment."
	InvalidResponseMessage   = "Sorry, I couldn't understand the diagnosis service's answer. Please type \"analyze\" to try again."

	// CompleteReply answers anything sent after the diagnosis is ready.
	CompleteReply = "I'm here to help with any questions about your diagnosis or if you need to book an appointment."

	// AnalysisSystemPrompt frames the oracle as a differential diagnosis
	// engine that answers in JSON only.
	AnalysisSystemPrompt = "You are an advanced medical AI assistant. Analyze the reported symptoms and provide a medical assessment. " +
		"Respond ONLY with a valid JSON array. Do not include any other text, explanations, or formatting."

	// AnalysisInstruction is appended to the patient data.  The placeholder
	// is the number of diagnoses requested.
	AnalysisInstruction = `Provide exactly %d possible diagnoses in JSON format:
[
  {
    "condition": "Condition Name",
    "probability": 75,
    "reasoning": "Medical reasoning for this diagnosis based on symptoms",
    "urgency": "low|medium|high|critical",
    "doctorRecommended": true
  }
]

Guidelines:
- Probability should be between 10-95
- Reasoning should be medical and professional
- Urgency levels: low (routine care), medium (see doctor soon), high (see doctor today), critical (immediate attention)
- doctorRecommended should be true for medium/high/critical urgency
- Order by probability (highest first)
- Consider differential diagnosis principles`
)

// genericAcks are picked uniformly at random when a symptom matches no topic.
var genericAcks = []string{
	"I've recorded that symptom. Please continue describing any other symptoms you're experiencing.",
	"Thank you for sharing that. What other symptoms have you noticed?",
	"I've noted that down. Are there any other symptoms I should know about?",
	"Got it. Please continue with any additional symptoms you're experiencing.",
}
